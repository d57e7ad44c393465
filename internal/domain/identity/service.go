package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/medref/medref/internal/platform/authprovider"
)

// Authenticator exchanges credentials for a provider session.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*authprovider.Session, error)
}

// ErrCredentialsRequired is returned when login is attempted without both
// an email and a password.
var ErrCredentialsRequired = errors.New("email and password are required")

type Service struct {
	resolver Resolver
	authn    Authenticator
}

func NewService(resolver Resolver, authn Authenticator) *Service {
	return &Service{resolver: resolver, authn: authn}
}

// LoginResult is a provider session plus the identity it resolves to.
type LoginResult struct {
	Session  *authprovider.Session
	Identity Identity
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrCredentialsRequired
	}

	session, err := s.authn.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	id, err := s.resolver.Resolve(ctx, session.User.ID)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &LoginResult{Session: session, Identity: id}, nil
}

func (s *Service) Resolve(ctx context.Context, authUserID string) (Identity, error) {
	return s.resolver.Resolve(ctx, authUserID)
}
