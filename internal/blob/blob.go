// Package blob stores uploaded content in an S3-compatible object store and
// hands out retrievable URLs.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// downloadURLTTL bounds how long a handed-out URL stays valid.
const downloadURLTTL = 24 * time.Hour

// Store is a bucket-scoped blob store client.
type Store struct {
	client *minio.Client
	bucket string
}

// Options configures the connection to the object store.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect blob store: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
	}

	return &Store{client: client, bucket: opts.Bucket}, nil
}

// ProfilePicturePath returns the canonical object path for a user's profile
// picture.
func ProfilePicturePath(normalizedKey string) string {
	return "images/" + normalizedKey + "_profile_picture.png"
}

// Upload writes data to the given object path.
func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// DownloadURL returns a time-limited URL from which the object at path can be
// fetched.
func (s *Store) DownloadURL(ctx context.Context, path string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, path, downloadURLTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("download url %s: %w", path, err)
	}
	return u.String(), nil
}
