// Package storage keeps VOD assets in S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"livecommerce/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ObjectStore is where finalized recordings live. Objects are addressed by
// the URL UploadStream returned.
type ObjectStore interface {
	UploadStream(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	GetObjectSize(ctx context.Context, objectURL string) (int64, error)
	// GetObjectRange reads bytes start..end inclusive. A negative end reads to the end.
	GetObjectRange(ctx context.Context, objectURL string, start, end int64) (io.ReadCloser, error)
	Delete(ctx context.Context, objectURL string) error
}

// S3Store is an ObjectStore on one S3 bucket.
type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
}

// NewS3Store opens a session from the provider environment.
func NewS3Store(env *config.ProviderEnv) (*S3Store, error) {
	cfg := &aws.Config{
		Region:           aws.String(env.AWSRegion),
		S3ForcePathStyle: aws.Bool(env.S3ForcePathStyle),
	}
	if env.S3Endpoint != "" {
		cfg.Endpoint = aws.String(env.S3Endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewS3StoreFromSession(sess, env.S3Bucket), nil
}

// NewS3StoreFromSession builds a store on an existing session.
func NewS3StoreFromSession(sess *session.Session, bucket string) *S3Store {
	return &S3Store{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
	}
}

func (s *S3Store) UploadStream(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return result.Location, nil
}

func (s *S3Store) GetObjectSize(ctx context.Context, objectURL string) (int64, error) {
	key, err := s.KeyFromURL(objectURL)
	if err != nil {
		return 0, err
	}
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", key, err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

func (s *S3Store) GetObjectRange(ctx context.Context, objectURL string, start, end int64) (io.ReadCloser, error) {
	key, err := s.KeyFromURL(objectURL)
	if err != nil {
		return nil, err
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if start > 0 || end >= 0 {
		r := fmt.Sprintf("bytes=%d-", start)
		if end >= 0 {
			r += fmt.Sprintf("%d", end)
		}
		in.Range = aws.String(r)
	}
	out, err := s.client.GetObjectWithContext(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, objectURL string) error {
	key, err := s.KeyFromURL(objectURL)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// KeyFromURL recovers the object key from a virtual-hosted, path-style or
// s3:// URL of this bucket.
func (s *S3Store) KeyFromURL(objectURL string) (string, error) {
	u, err := url.Parse(objectURL)
	if err != nil {
		return "", fmt.Errorf("invalid object url %q: %w", objectURL, err)
	}
	if u.Scheme == "s3" {
		if u.Host != s.bucket {
			return "", fmt.Errorf("object url %q is not in bucket %s", objectURL, s.bucket)
		}
		return strings.TrimPrefix(u.Path, "/"), nil
	}

	path := strings.TrimPrefix(u.Path, "/")
	if !strings.HasPrefix(u.Host, s.bucket+".") {
		path = strings.TrimPrefix(path, s.bucket+"/")
	}
	if path == "" {
		return "", fmt.Errorf("object url %q has no key", objectURL)
	}
	return path, nil
}
