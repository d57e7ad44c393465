package blobstore

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSignature = errors.New("invalid or expired file link")

// DownloadPath is the route that serves signed certificate links.
const DownloadPath = "/files/certificates"

type fileClaims struct {
	jwt.RegisteredClaims
	Path string `json:"path"`
}

// URLSigner mints and verifies short-lived view links for stored objects.
type URLSigner struct {
	key     []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// NewURLSigner signs links with key; baseURL may be empty for relative links.
func NewURLSigner(key []byte, ttl time.Duration, baseURL string) *URLSigner {
	return &URLSigner{key: key, ttl: ttl, baseURL: baseURL, now: time.Now}
}

// SignedURL returns a link to objectKey valid for the signer's TTL.
func (s *URLSigner) SignedURL(objectKey string) (string, error) {
	if len(s.key) == 0 {
		return "", errors.New("url signing key is not configured")
	}
	if _, err := cleanKey(objectKey); err != nil {
		return "", err
	}

	now := s.now()
	claims := fileClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Path: objectKey,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign file link: %w", err)
	}
	return s.baseURL + DownloadPath + "?token=" + url.QueryEscape(token), nil
}

// Verify returns the object key carried by a valid, unexpired token.
func (s *URLSigner) Verify(token string) (string, error) {
	claims := &fileClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid || claims.Path == "" {
		return "", ErrInvalidSignature
	}
	return claims.Path, nil
}
