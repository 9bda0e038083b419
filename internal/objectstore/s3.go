package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// Compile-time interface satisfaction check.
var _ Store = (*S3Store)(nil)

const defaultCallTimeout = 30 * time.Second

// S3API is the subset of the S3 client used by the store.
type S3API interface {
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements Store against an S3-compatible bucket. Every call
// carries a timeout so no sensor or run step blocks indefinitely.
type S3Store struct {
	client      S3API
	bucket      string
	callTimeout time.Duration
}

// NewS3 creates an S3Store from config.
func NewS3(cfg *types.ObjectStoreConfig) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	// For MinIO in development: static credentials and custom endpoint.
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" || cfg.ForcePathStyle {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	callTimeout := defaultCallTimeout
	if cfg.CallTimeout != "" {
		if d, err := time.ParseDuration(cfg.CallTimeout); err == nil && d > 0 {
			callTimeout = d
		}
	}

	return &S3Store{
		client:      s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:      cfg.Bucket,
		callTimeout: callTimeout,
	}, nil
}

// NewS3WithClient creates an S3Store with an injected client, for testing.
func NewS3WithClient(client S3API, bucket string, callTimeout time.Duration) *S3Store {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &S3Store{client: client, bucket: bucket, callTimeout: callTimeout}
}

// List returns all keys under prefix, following continuation tokens.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		out, err := s.listPage(ctx, prefix, token)
		if err != nil {
			return nil, types.Transientf("listing "+prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func (s *S3Store) listPage(ctx context.Context, prefix string, token *string) (*s3.ListObjectsV2Output, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:            &s.bucket,
		Prefix:            &prefix,
		ContinuationToken: token,
	})
}

// Get fetches an object and its ETag.
func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, types.Transientf("getting "+key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, types.Transientf("reading "+key, err)
	}
	return &Object{Key: key, Body: body, ETag: aws.ToString(out.ETag)}, nil
}

// Put writes an object, honoring preconditions via S3 conditional writes.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, opts PutOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	}
	if opts.ContentType != "" {
		input.ContentType = &opts.ContentType
	}
	if opts.IfAbsent {
		input.IfNoneMatch = aws.String("*")
	}
	if opts.IfMatch != "" {
		input.IfMatch = &opts.IfMatch
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", ErrPreconditionFailed
		}
		return "", types.Transientf("putting "+key, err)
	}
	return aws.ToString(out.ETag), nil
}

// Exists reports whether a key is present.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, types.Transientf("heading "+key, err)
	}
	return true, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return types.Transientf("deleting "+key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}
