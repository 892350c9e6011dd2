package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/logandonley/backstore/pkg/spool"
	"go.uber.org/zap"
)

const s3Type = "s3"

// S3Config holds the configuration for S3-compatible storage
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RootPath        string
}

// S3Storage implements backup storage for S3-compatible services
type S3Storage struct {
	client *s3.Client
	config *S3Config
	root   string
	prefix string
	opts   *options
	log    *zap.Logger
	closed bool
}

// NewS3Storage creates a new S3 storage instance. No request is sent until
// the first operation.
func NewS3Storage(ctx context.Context, config *S3Config, opts ...Option) (*S3Storage, error) {
	if config == nil {
		return nil, configError(s3Type, "missing configuration")
	}
	cfg := *config
	if cfg.Bucket == "" {
		return nil, configError(s3Type, "bucket is required")
	}
	if cfg.Region == "" {
		return nil, configError(s3Type, "region is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, configError(s3Type, "access_key_id and secret_access_key must be set together")
	}

	o := newOptions(opts)
	log := o.logger.With(zap.String("backend", s3Type), zap.String("bucket", cfg.Bucket))
	root := NormalizeRoot(cfg.RootPath)

	log.Debug("Creating S3 storage",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("region", cfg.Region),
		zap.String("root", root))

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, configError(s3Type, "failed to load AWS config: %v", err)
	}

	// Custom endpoints (B2, Minio, ...) are addressed path-style
	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if cfg.Endpoint != "" {
			so.BaseEndpoint = aws.String(cfg.Endpoint)
			so.UsePathStyle = true
		}
	})

	return &S3Storage{
		client: client,
		config: &cfg,
		root:   root,
		prefix: strings.TrimPrefix(root, "/"),
		opts:   o,
		log:    log,
	}, nil
}

// Root returns the normalized key prefix, always starting with "/"
func (s *S3Storage) Root() string {
	return s.root
}

// Type returns "s3"
func (s *S3Storage) Type() string {
	return s3Type
}

func (s *S3Storage) key(op, name string) (string, error) {
	full, err := ResolveName(s.root, name)
	if err != nil {
		return "", newError(s3Type, op, name, ErrInvalidName, err)
	}
	if s.closed {
		return "", newError(s3Type, op, name, ErrClosed, nil)
	}
	return strings.TrimPrefix(full, "/"), nil
}

// Write uploads r to S3 storage
func (s *S3Storage) Write(ctx context.Context, r io.ReadSeeker, name string) error {
	key, err := s.key("write", name)
	if err != nil {
		return err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return newError(s3Type, "write", name, ErrIO, fmt.Errorf("failed to rewind source: %w", err))
	}

	s.log.Debug("Uploading", zap.String("key", key))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return newError(s3Type, "write", name, classifyS3(err), fmt.Errorf("failed to upload object: %w", err))
	}
	return nil
}

// Read downloads name from S3 storage into a spool
func (s *S3Storage) Read(ctx context.Context, name string) (*spool.File, error) {
	key, err := s.key("read", name)
	if err != nil {
		return nil, err
	}

	s.log.Debug("Downloading", zap.String("key", key))
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, newError(s3Type, "read", name, classifyS3(err), fmt.Errorf("failed to get object: %w", err))
	}
	defer result.Body.Close()

	out, err := copyInto(s.opts, result.Body)
	if err != nil {
		kind := ErrIO
		if ctx.Err() != nil {
			kind = ErrUnreachable
		}
		return nil, newError(s3Type, "read", name, kind, fmt.Errorf("failed to copy object contents: %w", err))
	}
	return out, nil
}

// List lists the objects directly under the root prefix
func (s *S3Storage) List(ctx context.Context) ([]string, error) {
	if s.closed {
		return nil, newError(s3Type, "list", "", ErrClosed, nil)
	}

	s.log.Debug("Listing objects", zap.String("prefix", s.prefix))
	names := []string{}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.config.Bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			kind := classifyS3(err)
			if kind == ErrNotFound {
				kind = ErrUnreachable
			}
			return nil, newError(s3Type, "list", "", kind, fmt.Errorf("failed to list objects: %w", err))
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			// Skip directory markers
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}

	sort.Strings(names)
	s.log.Debug("Found objects", zap.Int("count", len(names)))
	return names, nil
}

// Delete deletes name from S3 storage. S3 reports success for missing keys,
// so the object is looked up first.
func (s *S3Storage) Delete(ctx context.Context, name string) error {
	key, err := s.key("delete", name)
	if err != nil {
		return err
	}

	s.log.Debug("Deleting object", zap.String("key", key))
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return newError(s3Type, "delete", name, classifyS3(err), fmt.Errorf("failed to stat object: %w", err))
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return newError(s3Type, "delete", name, classifyS3(err), fmt.Errorf("failed to delete object: %w", err))
	}
	return nil
}

// Close marks the storage closed. The HTTP client holds no session.
func (s *S3Storage) Close() error {
	if s.closed {
		return newError(s3Type, "close", "", ErrClosed, nil)
	}
	s.closed = true
	return nil
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func classifyS3(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrUnreachable
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return ErrNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return ErrDenied
		case "NoSuchBucket":
			return ErrUnreachable
		}
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.HTTPStatusCode(); {
		case code == 404:
			return ErrNotFound
		case code == 401 || code == 403:
			return ErrDenied
		case code >= 500:
			return ErrUnreachable
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrUnreachable
	}
	return ErrIO
}
