package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvVarProvider resolves references by looking them up as environment
// variables. It is the provider used for local development.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch implements SecretProvider.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// FileProvider resolves references as file names under Dir, the layout used
// by container orchestrators that mount secrets as files.
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a FileProvider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

// GetParametersBatch implements SecretProvider. Trailing newlines are
// trimmed; references escaping Dir are rejected.
func (p *FileProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.Contains(key, "..") {
			return nil, fmt.Errorf("secret reference %q escapes the secrets directory", key)
		}
		data, err := os.ReadFile(filepath.Join(p.Dir, key))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading secret %q: %w", key, err)
		}
		result[key] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}
