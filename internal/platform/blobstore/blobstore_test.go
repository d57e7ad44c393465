package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestCertificateExtension(t *testing.T) {
	tests := []struct {
		contentType string
		size        int64
		wantExt     string
		wantErr     error
	}{
		{"application/pdf", 1024, ".pdf", nil},
		{"image/jpeg", 1024, ".jpg", nil},
		{"IMAGE/PNG", 1024, ".png", nil},
		{"text/plain", 10, "", ErrInvalidContentType},
		{"application/pdf", MaxCertificateSize + 1, "", ErrFileTooLarge},
	}

	for _, tt := range tests {
		ext, err := CertificateExtension(tt.contentType, tt.size)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("CertificateExtension(%q, %d) error = %v, want %v", tt.contentType, tt.size, err, tt.wantErr)
		}
		if ext != tt.wantExt {
			t.Errorf("CertificateExtension(%q, %d) = %q, want %q", tt.contentType, tt.size, ext, tt.wantExt)
		}
	}
}

func TestPendingCertificateKey(t *testing.T) {
	got := PendingCertificateKey("req-1", ".pdf")
	if got != "hospitals/pending/req-1/registration_certificate.pdf" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestCleanKey(t *testing.T) {
	for _, bad := range []string{"", "/etc/passwd", "../secret", "a/../../b", "..", `a\b`} {
		if _, err := cleanKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("cleanKey(%q) expected ErrInvalidKey, got %v", bad, err)
		}
	}
	if got, err := cleanKey("hospitals/pending/x/../y/file.pdf"); err != nil || got != "hospitals/pending/y/file.pdf" {
		t.Errorf("unexpected clean result %q, %v", got, err)
	}
}

// ---------------------------------------------------------------------------
// Store behaviour, shared by both backends
// ---------------------------------------------------------------------------

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return map[string]Store{"memory": NewMemoryStore(), "file": fs}
}

func TestStore_PutGetDelete(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := PendingCertificateKey("req-1", ".pdf")
			content := "%PDF-1.4 certificate"

			obj, err := store.Put(ctx, key, "application/pdf", strings.NewReader(content))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if obj.Size != int64(len(content)) {
				t.Errorf("expected size %d, got %d", len(content), obj.Size)
			}
			if obj.Hash != fmt.Sprintf("%x", sha256.Sum256([]byte(content))) {
				t.Errorf("unexpected hash %s", obj.Hash)
			}

			rc, meta, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			data, _ := io.ReadAll(rc)
			rc.Close()
			if string(data) != content {
				t.Errorf("expected %q, got %q", content, data)
			}
			if meta.ContentType != "application/pdf" {
				t.Errorf("expected application/pdf, got %s", meta.ContentType)
			}

			if err := store.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, _, err := store.Get(ctx, key); !errors.Is(err, ErrObjectNotFound) {
				t.Errorf("expected ErrObjectNotFound after delete, got %v", err)
			}
			if err := store.Delete(ctx, key); !errors.Is(err, ErrObjectNotFound) {
				t.Errorf("expected ErrObjectNotFound on second delete, got %v", err)
			}
		})
	}
}

func TestStore_RejectsOversized(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			big := bytes.NewReader(make([]byte, MaxCertificateSize+1))
			_, err := store.Put(context.Background(), "too/big.pdf", "application/pdf", big)
			if !errors.Is(err, ErrFileTooLarge) {
				t.Errorf("expected ErrFileTooLarge, got %v", err)
			}
		})
	}
}

func TestStore_RejectsTraversal(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Put(context.Background(), "../escape.pdf", "application/pdf", strings.NewReader("x"))
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := PendingCertificateKey(fmt.Sprintf("req-%d", i), ".png")
			if _, err := store.Put(ctx, key, "image/png", strings.NewReader("png")); err != nil {
				t.Errorf("Put %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 50 {
		t.Errorf("expected 50 objects, got %d", store.Len())
	}
}

// ---------------------------------------------------------------------------
// Signed links
// ---------------------------------------------------------------------------

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if u.Path != DownloadPath {
		t.Fatalf("unexpected link path %s", u.Path)
	}
	return u.Query().Get("token")
}

func TestURLSigner_RoundTrip(t *testing.T) {
	signer := NewURLSigner([]byte("signing-key"), 15*time.Minute, "")
	link, err := signer.SignedURL("hospitals/pending/req-1/registration_certificate.pdf")
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}

	key, err := signer.Verify(tokenFrom(t, link))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if key != "hospitals/pending/req-1/registration_certificate.pdf" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestURLSigner_Expired(t *testing.T) {
	signer := NewURLSigner([]byte("signing-key"), 15*time.Minute, "https://api.example")
	issued := time.Now().Add(-time.Hour)
	signer.now = func() time.Time { return issued }
	link, err := signer.SignedURL("a/b.pdf")
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if !strings.HasPrefix(link, "https://api.example"+DownloadPath) {
		t.Errorf("expected absolute link, got %s", link)
	}

	signer.now = time.Now
	if _, err := signer.Verify(tokenFrom(t, strings.TrimPrefix(link, "https://api.example"))); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for expired link, got %v", err)
	}
}

func TestURLSigner_WrongKey(t *testing.T) {
	link, _ := NewURLSigner([]byte("key-a"), time.Minute, "").SignedURL("a/b.pdf")
	if _, err := NewURLSigner([]byte("key-b"), time.Minute, "").Verify(tokenFrom(t, link)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestURLSigner_NoKey(t *testing.T) {
	if _, err := NewURLSigner(nil, time.Minute, "").SignedURL("a/b.pdf"); err == nil {
		t.Error("expected error without a signing key")
	}
}

// ---------------------------------------------------------------------------
// Download handler
// ---------------------------------------------------------------------------

func TestHandler_Download(t *testing.T) {
	store := NewMemoryStore()
	signer := NewURLSigner([]byte("signing-key"), time.Minute, "")
	key := PendingCertificateKey("req-9", ".png")
	if _, err := store.Put(context.Background(), key, "image/png", strings.NewReader("PNGDATA")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	link, _ := signer.SignedURL(key)

	e := echo.New()
	NewHandler(store, signer).RegisterRoutes(e)
	req := httptest.NewRequest(http.MethodGet, link, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "PNGDATA" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderContentType) != "image/png" {
		t.Errorf("unexpected content type %s", rec.Header().Get(echo.HeaderContentType))
	}
}

func TestHandler_DownloadErrors(t *testing.T) {
	store := NewMemoryStore()
	signer := NewURLSigner([]byte("signing-key"), time.Minute, "")
	missing, _ := signer.SignedURL("hospitals/pending/none/registration_certificate.pdf")

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"no token", DownloadPath, http.StatusBadRequest},
		{"bad token", DownloadPath + "?token=garbage", http.StatusForbidden},
		{"missing object", missing, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.target, nil), httptest.NewRecorder())
			err := NewHandler(store, signer).Download(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
			}
			if httpErr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, httpErr.Code)
			}
		})
	}
}
