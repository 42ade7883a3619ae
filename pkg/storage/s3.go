package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options carries the connection settings for the MinIO/S3 backend.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3 stores uploads as objects in a single bucket, keyed by stored name.
type S3 struct {
	client *minio.Client
	bucket string
}

func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	s := &S3{client: client, bucket: opts.Bucket}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", opts.Bucket, err)
		}
	}
	return s, nil
}

func (s *S3) Save(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, name, r, size, minio.PutObjectOptions{})
	if err != nil {
		// PutObject does not leave partial objects behind; nothing to clean.
		return "", &WriteError{Name: name, Err: err}
	}
	return PublicPrefix + "/" + name, nil
}

func (s *S3) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, relToName(relPath), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; surface missing objects now so callers can 404.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

func (s *S3) Remove(ctx context.Context, relPath string) error {
	return s.client.RemoveObject(ctx, s.bucket, relToName(relPath), minio.RemoveObjectOptions{})
}
