package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretRefSuffix marks pointer variables: STRIPE_SECRET_KEY_SECRET_REF names
// the reference the SecretProvider resolves into STRIPE_SECRET_KEY.
const secretRefSuffix = "_SECRET_REF"

// localEnv is the APP_ENV value that bypasses secret resolution.
const localEnv = "local"

type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		dotenv:    func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the configuration:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present.
//  3. Outside APP_ENV=local, resolves *_SECRET_REF variables via provider.
//  4. Populates Config from envconfig tags and build metadata.
//  5. Validates the result, including the iana_tz and hhmm tags.
//
// provider may be nil for local runs.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv never overrides variables that are already set.
	_ = deps.dotenv()

	appEnv, ok := deps.lookupEnv("APP_ENV")
	if !ok || appEnv == "" {
		return nil, &ConfigError{Type: ErrMissingEnv, Message: "APP_ENV is not set"}
	}

	if appEnv != localEnv {
		if err := resolveSecretRefs(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate, err := NewValidator()
	if err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "failed to build validator", Err: err}
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if cfg.Database.Driver == "memory" && cfg.Environment != localEnv {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "the in-memory store is only allowed with APP_ENV=local",
		}
	}

	return &cfg, nil
}

// ResolveSecrets runs only the secret resolution step. Lambda entry points
// call it before reading individual variables.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSecretRefs(provider, defaultDeps())
}

// resolveSecretRefs injects the value of every X_SECRET_REF into X unless X
// is already set (Env > Dotenv > secret reference).
func resolveSecretRefs(provider SecretProvider, deps loaderDeps) error {
	refToTarget := make(map[string]string)

	for _, entry := range deps.environ() {
		key, ref, found := strings.Cut(entry, "=")
		if !found || !strings.HasSuffix(key, secretRefSuffix) || ref == "" {
			continue
		}
		target := strings.TrimSuffix(key, secretRefSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		refToTarget[ref] = target
	}

	if len(refToTarget) == 0 {
		return nil
	}

	refs := make([]string, 0, len(refToTarget))
	for ref := range refToTarget {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	if provider == nil {
		targets := make([]string, 0, len(refs))
		for _, ref := range refs {
			targets = append(targets, refToTarget[ref])
		}
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("a SecretProvider is required outside local (need: %s)", strings.Join(targets, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, refs)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret references", len(refs)),
			Err:     err,
		}
	}

	var missing []string
	for _, ref := range refs {
		target := refToTarget[ref]
		value, ok := resolved[ref]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret references not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
