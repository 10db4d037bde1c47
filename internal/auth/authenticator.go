package auth

import (
	"context"
	"strings"

	"payretry/internal/types"
)

// Authenticator resolves credentials into principals.
type Authenticator struct {
	tokens  *TokenService
	apiKeys *APIKeyVerifier
}

// NewAuthenticator combines operator tokens and machine keys.
func NewAuthenticator(tokens *TokenService, apiKeys *APIKeyVerifier) *Authenticator {
	return &Authenticator{tokens: tokens, apiKeys: apiKeys}
}

// ResolveBearer verifies an operator JWT. The subject becomes a USER actor.
func (a *Authenticator) ResolveBearer(_ context.Context, token string) (*types.Principal, error) {
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	return &types.Principal{
		Actor:          types.AuditActor{Type: types.ActorUser, ID: claims.Subject},
		OrganisationID: claims.Org,
	}, nil
}

// ResolveAPIKey verifies a machine key. Machine callers act as SYSTEM and
// are not confined to an organisation.
func (a *Authenticator) ResolveAPIKey(_ context.Context, key string) (*types.Principal, error) {
	if !a.apiKeys.Verify(key) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid API key", nil)
	}
	id := "api-key"
	if strings.HasPrefix(key, APIKeyPrefix) && len(key) >= len(APIKeyPrefix)+8 {
		id = key[:len(APIKeyPrefix)+8]
	}
	return &types.Principal{Actor: types.AuditActor{Type: types.ActorSystem, ID: id}}, nil
}
