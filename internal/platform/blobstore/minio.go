package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the connection settings for an S3-compatible store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioBlobStore keeps blobs in a MinIO / S3 bucket.
type MinioBlobStore struct {
	client  *minio.Client
	bucket  string
	maxSize int64
}

// NewMinioBlobStore connects to the endpoint and creates the bucket when it
// does not exist yet.
func NewMinioBlobStore(ctx context.Context, cfg MinioConfig, maxSize int64) (*MinioBlobStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioBlobStore{client: client, bucket: cfg.Bucket, maxSize: maxSize}, nil
}

func (s *MinioBlobStore) Backend() string { return "minio" }

func (s *MinioBlobStore) Put(ctx context.Context, fileName, contentType string, content io.Reader) (*BlobMetadata, error) {
	ct, err := ValidateUpload(fileName, contentType)
	if err != nil {
		return nil, err
	}

	key := newKey(fileName)
	lr := newLimitedHashReader(content, s.maxSize)
	info, err := s.client.PutObject(ctx, s.bucket, key, lr, -1, minio.PutObjectOptions{
		ContentType: ct,
		UserMetadata: map[string]string{
			"filename": filepath.Base(fileName),
		},
	})
	if err != nil {
		// Multipart uploads aborted mid-stream may leave an object behind.
		_ = s.client.RemoveObject(context.Background(), s.bucket, key, minio.RemoveObjectOptions{})
		if errors.Is(err, ErrFileTooLarge) || lr.n > s.maxSize {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &BlobMetadata{
		Key:         key,
		FileName:    filepath.Base(fileName),
		ContentType: ct,
		Size:        info.Size,
		SHA256:      lr.sum(),
		URL:         URLPrefix + key,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *MinioBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	if !ValidKey(key) {
		return nil, nil, ErrBlobNotFound
	}
	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}

	name := stat.UserMetadata["Filename"]
	if name == "" {
		name = key
	}
	return obj, &BlobMetadata{
		Key:         key,
		FileName:    name,
		ContentType: stat.ContentType,
		Size:        stat.Size,
		URL:         URLPrefix + key,
		CreatedAt:   stat.LastModified.UTC(),
	}, nil
}

func (s *MinioBlobStore) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return ErrBlobNotFound
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}
