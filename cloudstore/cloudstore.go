// Package cloudstore mirrors album files to S3-compatible object storage.
package cloudstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultPresignTTL applies when neither the caller nor the config sets one.
const DefaultPresignTTL = time.Hour

var (
	ErrBucketNotFound = errors.New("bucket does not exist")
	ErrAccessDenied   = errors.New("access denied to bucket")
	ErrNoCredentials  = errors.New("credentials not found")
)

// Config selects the bucket and how to reach it. Endpoint is for
// S3-compatible services such as MinIO.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	PresignTTL   time.Duration
}

// API is the subset of the S3 client used here.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner signs download URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Object describes a stored object.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url"`
}

// Store is a bucket-scoped object store.
type Store struct {
	api     API
	presign Presigner
	bucket  string
	ttl     time.Duration
	log     zerolog.Logger
}

// New builds an S3 client from cfg and verifies the bucket is reachable.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required for cloud storage")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	s := NewWithClient(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PresignTTL, log)
	if err := s.Verify(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(api API, presign Presigner, bucket string, ttl time.Duration, log zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &Store{api: api, presign: presign, bucket: bucket, ttl: ttl, log: log}
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Verify checks the bucket exists and is accessible.
func (s *Store) Verify(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	return classify(err, s.bucket)
}

func classify(err error, bucket string) error {
	code := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	status := 0
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	switch {
	case status == 404 || code == "NotFound" || code == "NoSuchBucket":
		return errors.Wrapf(ErrBucketNotFound, "bucket %q", bucket)
	case status == 403 || code == "Forbidden" || code == "AccessDenied":
		return errors.Wrapf(ErrAccessDenied, "bucket %q", bucket)
	case strings.Contains(err.Error(), "failed to retrieve credentials"):
		return errors.Wrap(ErrNoCredentials, err.Error())
	}
	return errors.Wrapf(err, "access bucket %q", bucket)
}

// URL renders the s3:// URL for key.
func (s *Store) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// KeyFromURL strips the bucket prefix from an s3:// URL. ok is false for URLs
// that point elsewhere.
func (s *Store) KeyFromURL(u string) (string, bool) {
	prefix := fmt.Sprintf("s3://%s/", s.bucket)
	if !strings.HasPrefix(u, prefix) {
		return "", false
	}
	return strings.TrimPrefix(u, prefix), true
}

// Upload stores the local file under key and returns its s3:// URL.
func (s *Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", localPath)
	}
	defer f.Close()

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", key)
	}
	return s.URL(key), nil
}

// Download writes the object at key to localPath, creating parent
// directories.
func (s *Store) Download(ctx context.Context, key, localPath string) (string, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", errors.Wrapf(err, "download %s", key)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", errors.Wrap(err, "create download directory")
	}
	f, err := os.Create(localPath)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", localPath)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "write %s", localPath)
	}
	return localPath, errors.Wrap(f.Close(), "close download")
}

// Delete removes one object.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return errors.Wrapf(err, "delete %s", key)
}

// Copy duplicates an object within the bucket.
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	return errors.Wrapf(err, "copy %s to %s", srcKey, dstKey)
}

// List returns every object under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]Object, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	objects := []Object{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "list %s", prefix)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			objects = append(objects, Object{
				Key:          key,
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
				URL:          s.URL(key),
			})
		}
	}
	return objects, nil
}

// DeletePrefix removes every object under prefix and returns how many were
// deleted.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range objects {
		if err := s.Delete(ctx, o.Key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PresignGet returns a temporary GET URL for key. ttl <= 0 uses the store's
// default.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errors.Wrapf(err, "presign %s", key)
	}
	return req.URL, nil
}

func contentType(key string) string {
	if strings.EqualFold(filepath.Ext(key), ".dcm") {
		return "application/dicom"
	}
	return "application/octet-stream"
}
