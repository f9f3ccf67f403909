// Package blob is the boundary to the persistent object store. Clients upload
// directly with presigned URLs; the service only reads, writes derivatives and
// deletes.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"messaging-service/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("blob: object not found")

type Store interface {
	PresignPut(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	Get(ctx context.Context, bucket, path string) ([]byte, error)
	Put(ctx context.Context, bucket, path, contentType string, data []byte) error
	Exists(ctx context.Context, bucket, path string) (bool, error)
	Remove(ctx context.Context, bucket, path string) error
}

type MinioStore struct {
	client *minio.Client
	// MaxRead bounds Get to protect the worker from oversized objects.
	MaxRead int64
}

func MinioConnect() (*MinioStore, error) {
	client, err := minio.New(config.Config("BLOB_ENDPOINT"), &minio.Options{
		Creds:  credentials.NewStaticV4(config.Config("BLOB_ACCESS_KEY"), config.Config("BLOB_SECRET_KEY"), ""),
		Secure: config.Bool("BLOB_USE_SSL", true),
		Region: config.Config("BLOB_REGION"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect blob store: %w", err)
	}
	return &MinioStore{client: client, MaxRead: 512 << 20}, nil
}

func (s *MinioStore) PresignPut(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, bucket, path, ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, path, err)
	}
	return u.String(), nil
}

func (s *MinioStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(err, bucket, path)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, s.MaxRead+1))
	if err != nil {
		return nil, s.translate(err, bucket, path)
	}
	if int64(len(data)) > s.MaxRead {
		return nil, fmt.Errorf("object %s/%s exceeds read limit of %d bytes", bucket, path, s.MaxRead)
	}
	return data, nil
}

func (s *MinioStore) Put(ctx context.Context, bucket, path, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, path, err)
	}
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, bucket, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if errors.Is(s.translate(err, bucket, path), ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", bucket, path, err)
}

// Remove is idempotent: removing a missing object succeeds.
func (s *MinioStore) Remove(ctx context.Context, bucket, path string) error {
	err := s.client.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{})
	if err != nil && !errors.Is(s.translate(err, bucket, path), ErrNotFound) {
		return fmt.Errorf("remove %s/%s: %w", bucket, path, err)
	}
	return nil
}

func (s *MinioStore) translate(err error, bucket, path string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%s/%s: %w", bucket, path, ErrNotFound)
	}
	return err
}
