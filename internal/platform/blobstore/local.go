package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// LocalBlobStore writes blobs to a directory on disk. Uploads stream into a
// temporary file that is renamed into place only after the size check and
// hash complete.
type LocalBlobStore struct {
	dir     string
	maxSize int64
}

func NewLocalBlobStore(dir string, maxSize int64) (*LocalBlobStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalBlobStore{dir: dir, maxSize: maxSize}, nil
}

func (s *LocalBlobStore) Backend() string { return "local" }

func (s *LocalBlobStore) Put(ctx context.Context, fileName, contentType string, content io.Reader) (*BlobMetadata, error) {
	ct, err := ValidateUpload(fileName, contentType)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	lr := newLimitedHashReader(content, s.maxSize)
	size, err := io.Copy(tmp, lr)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close upload: %w", err)
	}

	key := newKey(fileName)
	if err := os.Rename(tmpName, filepath.Join(s.dir, key)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	committed = true

	return &BlobMetadata{
		Key:         key,
		FileName:    filepath.Base(fileName),
		ContentType: ct,
		Size:        size,
		SHA256:      lr.sum(),
		URL:         URLPrefix + key,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *LocalBlobStore) Open(_ context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	if !ValidKey(key) {
		return nil, nil, ErrBlobNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat blob: %w", err)
	}

	ct := mime.TypeByExtension(filepath.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return f, &BlobMetadata{
		Key:         key,
		FileName:    key,
		ContentType: ct,
		Size:        info.Size(),
		URL:         URLPrefix + key,
		CreatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *LocalBlobStore) Delete(_ context.Context, key string) error {
	if !ValidKey(key) {
		return ErrBlobNotFound
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
