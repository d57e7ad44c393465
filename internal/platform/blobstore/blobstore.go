// Package blobstore stores registration certificates and issues
// time-limited view URLs for them. Objects are addressed by a slash-separated
// key such as "hospitals/pending/{requestId}/registration_certificate.pdf".
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("only PDF and image files are allowed")
	ErrInvalidKey         = errors.New("invalid object key")
)

// MaxCertificateSize is the upload limit for a registration certificate.
const MaxCertificateSize = 5 * 1024 * 1024

// AllowedCertificateTypes maps accepted MIME types to the stored extension.
var AllowedCertificateTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
}

// Object describes a stored file.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for certificate storage backends.
type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
}

// CertificateExtension validates a certificate upload and returns the
// extension it will be stored under.
func CertificateExtension(contentType string, size int64) (string, error) {
	ext, ok := AllowedCertificateTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", ErrInvalidContentType
	}
	if size > MaxCertificateSize {
		return "", ErrFileTooLarge
	}
	return ext, nil
}

// PendingCertificateKey is where a request's certificate lives until review.
func PendingCertificateKey(requestID, ext string) string {
	return fmt.Sprintf("hospitals/pending/%s/registration_certificate%s", requestID, ext)
}

// cleanKey rejects absolute keys and any key that escapes its root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// readLimited buffers content up to MaxCertificateSize and hashes it.
func readLimited(content io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxCertificateSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxCertificateSize {
		return nil, "", ErrFileTooLarge
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

type storedObject struct {
	meta    Object
	content []byte
}

// MemoryStore is a thread-safe in-memory Store for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	meta := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hash,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = &storedObject{meta: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrObjectNotFound
	}

	meta := obj.meta
	return io.NopCloser(bytes.NewReader(obj.content)), &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
