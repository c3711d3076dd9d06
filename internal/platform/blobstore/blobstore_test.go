package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		contentType string
		want        string
		wantErr     error
	}{
		{"png", "scan.png", "image/png", "image/png", nil},
		{"dicom octet", "slice.dcm", "application/octet-stream", "application/octet-stream", nil},
		{"dicom typed", "slice.DCM", "application/dicom", "application/dicom", nil},
		{"jpeg with params", "x.jpg", "image/jpeg; charset=binary", "image/jpeg", nil},
		{"nifti gz", "brain.nii.gz", "application/gzip", "application/gzip", nil},
		{"pdf inferred", "report.pdf", "", "application/pdf", nil},
		{"exe rejected", "virus.exe", "application/octet-stream", "", ErrInvalidContentType},
		{"html type rejected", "scan.png", "text/html", "", ErrInvalidContentType},
		{"missing name", "", "image/png", "", ErrMissingFileName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateUpload(tt.file, tt.contentType)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestInMemoryBlobStore_PutOpen(t *testing.T) {
	s := NewInMemoryBlobStore(1024)
	content := []byte("fake png bytes")

	meta, err := s.Put(context.Background(), "scan.png", "image/png", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	sum := sha256.Sum256(content)
	if meta.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected hash %s", meta.SHA256)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), meta.Size)
	}
	if !strings.HasPrefix(meta.URL, URLPrefix) || !strings.HasSuffix(meta.Key, ".png") {
		t.Errorf("unexpected url/key %s %s", meta.URL, meta.Key)
	}
	if !ValidKey(meta.Key) {
		t.Errorf("generated key %q does not validate", meta.Key)
	}

	rc, _, err := s.Open(context.Background(), meta.Key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, content) {
		t.Error("content mismatch")
	}
}

func TestInMemoryBlobStore_TooLarge(t *testing.T) {
	s := NewInMemoryBlobStore(10)
	_, err := s.Put(context.Background(), "scan.png", "image/png", bytes.NewReader(make([]byte, 11)))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("rejected upload must not be stored")
	}
}

func TestLocalBlobStore_PutOpenDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalBlobStore(dir, 1024)
	if err != nil {
		t.Fatalf("NewLocalBlobStore: %v", err)
	}

	meta, err := s.Put(context.Background(), "slice.dcm", "", strings.NewReader("DICM"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if meta.ContentType != "application/octet-stream" {
		t.Errorf("expected octet-stream for dcm, got %s", meta.ContentType)
	}

	rc, got, err := s.Open(context.Background(), meta.Key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "DICM" || got.Size != 4 {
		t.Errorf("unexpected content %q size %d", data, got.Size)
	}

	if err := s.Delete(context.Background(), meta.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Open(context.Background(), meta.Key); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestLocalBlobStore_TooLargeLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalBlobStore(dir, 1<<10)
	if err != nil {
		t.Fatalf("NewLocalBlobStore: %v", err)
	}

	_, err = s.Put(context.Background(), "big.png", "image/png", bytes.NewReader(make([]byte, 2<<10)))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty upload dir, found %d entries", len(entries))
	}
}

func TestLocalBlobStore_RejectsTraversalKeys(t *testing.T) {
	s, _ := NewLocalBlobStore(t.TempDir(), 0)
	for _, key := range []string{"../etc/passwd", "x.png", "/abs.png"} {
		if _, _, err := s.Open(context.Background(), key); !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("Open(%q): expected ErrBlobNotFound, got %v", key, err)
		}
	}
}

func TestServeHandler(t *testing.T) {
	store := NewInMemoryBlobStore(0)
	meta, err := store.Put(context.Background(), "scan.png", "image/png", strings.NewReader("png-data"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	e := echo.New()
	e.HTTPErrorHandler = apperr.Handler(zerolog.Nop())
	e.GET(URLPrefix+"*", ServeHandler(store))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, meta.URL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "png-data" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, URLPrefix+"00000000-0000-0000-0000-000000000000.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown blob, got %d", rec.Code)
	}
}
