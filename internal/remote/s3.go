package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"mailbuild/internal/pipeline"
	"mailbuild/internal/stage"
)

// S3Store uploads objects to one bucket through the S3 upload manager, which
// switches to multipart uploads for large bodies.
type S3Store struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Store creates a store for c.Bucket. Without a key and secret the
// default AWS credential chain is used. The SDK's own retries are disabled;
// failed uploads are retried by the sequencer's retry policy.
func NewS3Store(ctx context.Context, c stage.S3Connection) (stage.ObjectStore, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(c.Region),
		config.WithRetryMaxAttempts(1),
	}
	if c.Key != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.Key, c.Secret, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.PathStyle
	})
	return &S3Store{bucket: c.Bucket, uploader: manager.NewUploader(client)}, nil
}

func (s *S3Store) Destination() string {
	return "s3://" + s.bucket
}

func (s *S3Store) Put(ctx context.Context, obj stage.Object) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(obj.Key),
		Body:        obj.Body,
		ContentType: aws.String(obj.ContentType),
	}
	if obj.ContentEncoding != "" {
		input.ContentEncoding = aws.String(obj.ContentEncoding)
	}
	if obj.CacheControl != "" {
		input.CacheControl = aws.String(obj.CacheControl)
	}
	if !obj.Expires.IsZero() {
		input.Expires = aws.Time(obj.Expires)
	}
	if obj.ACL != "" {
		input.ACL = types.ObjectCannedACL(obj.ACL)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return classifyAWS(fmt.Sprintf("put s3://%s/%s", s.bucket, obj.Key), err)
	}
	return nil
}

// classifyAWS marks throttling, 5xx and connection errors transient.
func classifyAWS(what string, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if transientStatus(respErr.HTTPStatusCode()) {
			return pipeline.Transientf("%s: %w", what, err)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	if isNetworkError(err) {
		return pipeline.Transientf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

var _ stage.ObjectStore = (*S3Store)(nil)
