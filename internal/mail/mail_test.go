package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishsim/internal/config"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESMailer_BuildsMessage(t *testing.T) {
	api := &fakeSES{}
	m := newSESMailer(api, config.MailConfig{
		DefaultSender: "security@example.com",
		SenderName:    "IT Security Team",
		MaxSendRate:   100,
	})

	require.NoError(t, m.Send(context.Background(), "jo@example.com", "Reset", "<p>hi</p>"))
	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "IT Security Team <security@example.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"jo@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Reset", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "<p>hi</p>", aws.ToString(in.Content.Simple.Body.Html.Data))
}

func TestSESMailer_WrapsProviderError(t *testing.T) {
	boom := errors.New("throttled")
	m := newSESMailer(&fakeSES{err: boom}, config.MailConfig{DefaultSender: "a@b.io", MaxSendRate: 10})
	err := m.Send(context.Background(), "x@y.io", "s", "h")
	assert.ErrorIs(t, err, boom)
}

func TestSESMailer_CancelledWhilePacing(t *testing.T) {
	m := newSESMailer(&fakeSES{}, config.MailConfig{DefaultSender: "a@b.io", MaxSendRate: 1})
	require.NoError(t, m.Send(context.Background(), "x@y.io", "s", "h"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.Send(ctx, "x@y.io", "s", "h"))
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer()
	m.Fail = func(to string) error {
		if to == "bad@example.com" {
			return errors.New("mailbox unavailable")
		}
		return nil
	}
	ctx := context.Background()
	require.NoError(t, m.Send(ctx, "ok@example.com", "s", "h"))
	assert.Error(t, m.Send(ctx, "bad@example.com", "s", "h"))
	assert.Len(t, m.Sent(), 1)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.MailConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}
