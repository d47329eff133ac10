package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"golang.org/x/time/rate"

	"github.com/ignite/phishsim/internal/config"
	"github.com/ignite/phishsim/internal/pkg/logger"
)

// sesAPI is the subset of the SES v2 client the mailer calls.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer sends through Amazon SES v2, paced to the account's per-second
// send rate.
type SESMailer struct {
	client  sesAPI
	from    string
	limiter *rate.Limiter
	timeout time.Duration
}

// NewSESMailer loads AWS configuration for cfg.Region. Static credentials
// are used when both keys are set; otherwise the default chain applies.
func NewSESMailer(ctx context.Context, cfg config.MailConfig) (*SESMailer, error) {
	if cfg.DefaultSender == "" {
		return nil, fmt.Errorf("ses: %w: default sender is empty", ErrNotConfigured)
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return newSESMailer(sesv2.NewFromConfig(awsCfg), cfg), nil
}

func newSESMailer(client sesAPI, cfg config.MailConfig) *SESMailer {
	perSec := cfg.MaxSendRate
	if perSec <= 0 {
		perSec = 1
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	from := cfg.DefaultSender
	if cfg.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.SenderName, cfg.DefaultSender)
	}
	return &SESMailer{
		client:  client,
		from:    from,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		timeout: cfg.Timeout(),
	}
}

func (m *SESMailer) Send(ctx context.Context, to, subject, html string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	logger.Debug("ses accepted", "to", to, "message_id", aws.ToString(out.MessageId))
	return nil
}
