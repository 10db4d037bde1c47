package config

import "context"

// SecretProvider resolves secret references (vault paths, mounted file names,
// environment keys) into plaintext values.
type SecretProvider interface {
	// GetParametersBatch resolves every key it can; keys it cannot find are
	// omitted from the result rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
