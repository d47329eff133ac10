package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/phishsim/internal/config"
	"github.com/ignite/phishsim/internal/pkg/logger"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver stores export files under a bucket prefix.
type Archiver struct {
	client s3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewArchiver loads AWS configuration for cfg.S3Region. It returns nil when
// no bucket is configured.
func NewArchiver(ctx context.Context, cfg config.ExportConfig) (*Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return newArchiver(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
}

func newArchiver(client s3API, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Key builds the object key: <prefix>/<campaign>/<yyyymmddThhmmss>.<ext>.
func (a *Archiver) Key(campaignID, ext string) string {
	return path.Join(a.prefix, campaignID, a.now().UTC().Format("20060102T150405")+"."+ext)
}

// Put uploads data and returns the object key.
func (a *Archiver) Put(ctx context.Context, campaignID, ext, contentType string, data []byte) (string, error) {
	key := a.Key(campaignID, ext)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	logger.Info("export archived", "bucket", a.bucket, "key", key, "bytes", len(data))
	return key, nil
}
