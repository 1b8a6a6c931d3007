package sessionstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"waconnect/pkg/logger"
)

// S3Backend is the cloud tier's CloudBackend, grounded on
// mt21625457-aicodex2api/backend/internal/service/sora_s3_storage.go's
// lazy client-init-and-cache pattern with double-checked locking.
type S3Backend struct {
	bucket    string
	region    string
	accessKey string
	secretKey string
	log       logger.Logger

	mu     sync.RWMutex
	client *s3.Client
}

func NewS3Backend(bucket, region, endpoint, accessKey, secretKey string, log logger.Logger) *S3Backend {
	b := &S3Backend{
		bucket:    bucket,
		region:    region,
		accessKey: accessKey,
		secretKey: secretKey,
		log:       log.WithComponent("sessionstore-s3"),
	}
	_ = endpoint // reserved for S3-compatible (MinIO) overrides via custom resolver
	return b
}

func (b *S3Backend) ensureClient(ctx context.Context) (*s3.Client, error) {
	b.mu.RLock()
	if b.client != nil {
		defer b.mu.RUnlock()
		return b.client, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}

	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(b.region)}
	if b.accessKey != "" && b.secretKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.accessKey, b.secretKey, "")))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	b.client = s3.NewFromConfig(cfg)
	return b.client, nil
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object %s: %w", key, err)
	}
	return data, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}
