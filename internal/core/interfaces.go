package core

import (
	"context"

	"payretry/internal/types"
)

// Authenticator resolves request credentials into a principal. Failures are
// AppErrors with an auth_* code.
type Authenticator interface {
	// ResolveBearer handles "Authorization: Bearer <jwt>" operator tokens.
	ResolveBearer(ctx context.Context, token string) (*types.Principal, error)
	// ResolveAPIKey handles "X-API-Key" machine credentials.
	ResolveAPIKey(ctx context.Context, key string) (*types.Principal, error)
}

// IPGuard blocks clients with too many failed authentications.
type IPGuard interface {
	IsIPBlocked(ctx context.Context, ip string) bool
	RecordFailure(ctx context.Context, ip string)
}
