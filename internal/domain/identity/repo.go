package identity

import "context"

// Resolver maps an identity-provider user id to an Identity. Users with no
// registered role resolve to KindUnrecognized without an error.
type Resolver interface {
	Resolve(ctx context.Context, authUserID string) (Identity, error)
}
