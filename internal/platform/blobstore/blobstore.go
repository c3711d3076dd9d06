// Package blobstore stores uploaded scan files. It defines the BlobStore
// interface with local-disk, MinIO and in-memory backends, the upload
// allow-list, and the handler serving stored files under /uploads.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("file type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// DefaultMaxSize is the upload ceiling when none is configured (25 MB).
const DefaultMaxSize int64 = 25 << 20

// URLPrefix is the public path under which stored blobs are served.
const URLPrefix = "/uploads/"

// AllowedExtensions lists accepted scan file extensions.
var AllowedExtensions = map[string]bool{
	".dcm":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".nii":  true,
	".gz":   true,
	".pdf":  true,
}

// AllowedContentTypes lists accepted scan MIME types.
var AllowedContentTypes = map[string]bool{
	"application/dicom":        true,
	"image/png":                true,
	"image/jpeg":               true,
	"application/pdf":          true,
	"application/gzip":         true,
	"application/octet-stream": true,
}

// keyPattern matches keys produced by newKey: a uuid plus an allowed extension.
var keyPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.[a-z]{2,4}$`)

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	Key         string    `json:"key"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BlobStore is the contract for blob storage backends. Put must not leave
// a partial object behind when it fails.
type BlobStore interface {
	Put(ctx context.Context, fileName, contentType string, content io.Reader) (*BlobMetadata, error)
	Open(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, key string) error
	// Backend names the implementation: local, minio or memory.
	Backend() string
}

// ValidateUpload checks the file name and content type against the
// allow-lists and returns the normalised content type.
func ValidateUpload(fileName, contentType string) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", ErrMissingFileName
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if !AllowedExtensions[ext] {
		return "", fmt.Errorf("%w: extension %q", ErrInvalidContentType, ext)
	}

	ct := contentType
	if ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			ct = parsed
		}
	}
	if ct == "" {
		ct = mime.TypeByExtension(ext)
		if ct == "" || !AllowedContentTypes[ct] {
			ct = "application/octet-stream"
		}
	}
	ct = strings.ToLower(ct)
	if !AllowedContentTypes[ct] {
		return "", fmt.Errorf("%w: content type %q", ErrInvalidContentType, ct)
	}
	return ct, nil
}

// ValidKey reports whether key has the shape of a generated blob key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

func newKey(fileName string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
}

// limitedHashReader counts and hashes what it reads and fails once more than
// max bytes have been read.
type limitedHashReader struct {
	r   io.Reader
	max int64
	n   int64
	h   hash.Hash
}

func newLimitedHashReader(r io.Reader, max int64) *limitedHashReader {
	return &limitedHashReader{r: r, max: max, h: sha256.New()}
}

func (l *limitedHashReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		return 0, ErrFileTooLarge
	}
	l.h.Write(p[:n])
	return n, err
}

func (l *limitedHashReader) sum() string {
	return hex.EncodeToString(l.h.Sum(nil))
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for tests and
// development.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	maxSize int64
}

func NewInMemoryBlobStore(maxSize int64) *InMemoryBlobStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &InMemoryBlobStore{
		blobs:   make(map[string]*storedBlob),
		maxSize: maxSize,
	}
}

func (s *InMemoryBlobStore) Backend() string { return "memory" }

func (s *InMemoryBlobStore) Put(_ context.Context, fileName, contentType string, content io.Reader) (*BlobMetadata, error) {
	ct, err := ValidateUpload(fileName, contentType)
	if err != nil {
		return nil, err
	}

	lr := newLimitedHashReader(content, s.maxSize)
	data, err := io.ReadAll(lr)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("read content: %w", err)
	}

	key := newKey(fileName)
	meta := BlobMetadata{
		Key:         key,
		FileName:    filepath.Base(fileName),
		ContentType: ct,
		Size:        int64(len(data)),
		SHA256:      lr.sum(),
		URL:         URLPrefix + key,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Open(_ context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (s *InMemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
