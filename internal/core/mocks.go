package core

import (
	"context"
	"sync"

	"payretry/internal/types"
)

// MockAuthenticator is a test double for Authenticator. Tokens map bearer
// tokens to principals; Keys does the same for API keys. Unknown
// credentials yield auth_token_invalid.
type MockAuthenticator struct {
	Tokens map[string]types.Principal
	Keys   map[string]types.Principal

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveBearer(_ context.Context, token string) (*types.Principal, error) {
	return m.resolve(m.Tokens, token)
}

func (m *MockAuthenticator) ResolveAPIKey(_ context.Context, key string) (*types.Principal, error) {
	return m.resolve(m.Keys, key)
}

func (m *MockAuthenticator) resolve(set map[string]types.Principal, credential string) (*types.Principal, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, credential)
	m.mu.Unlock()
	p, ok := set[credential]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil)
	}
	return &p, nil
}

// MockGuard is an IPGuard test double that blocks the listed IPs and
// records failures.
type MockGuard struct {
	Blocked map[string]bool

	mu       sync.Mutex
	Failures []string
}

func (g *MockGuard) IsIPBlocked(_ context.Context, ip string) bool {
	return g.Blocked[ip]
}

func (g *MockGuard) RecordFailure(_ context.Context, ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Failures = append(g.Failures, ip)
}
