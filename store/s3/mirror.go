// Package s3 mirrors finished pipeline artifacts to an S3 bucket. Mirroring
// is optional and runs after the local artifact set is complete.
package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wxget/wxdlp/internal/logger"
)

var log = logger.C(logger.ComponentStore)

// api is the subset of the S3 client the mirror uses.
type api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Mirror uploads artifact files to one bucket under a key prefix.
type Mirror struct {
	client api
	bucket string
	prefix string
}

// New creates a mirror from default AWS credentials and verifies the bucket
// is reachable.
func New(ctx context.Context, bucket, prefix string) (*Mirror, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("access bucket %s: %w", bucket, err)
	}
	return &Mirror{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewWithClient creates a mirror over an existing client (tests).
func NewWithClient(client api, bucket, prefix string) *Mirror {
	return &Mirror{client: client, bucket: bucket, prefix: prefix}
}

// Upload stores one local file under <prefix>/<basename>.
func (m *Mirror) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	key := path.Join(m.prefix, filepath.Base(localPath))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	log.Info("mirrored artifact", map[string]interface{}{"bucket": m.bucket, "key": key})
	return nil
}

// UploadAll mirrors every named file; the first failure stops the batch.
func (m *Mirror) UploadAll(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if err := m.Upload(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
