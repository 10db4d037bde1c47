// Package main implements issue-token, which mints admin API credentials:
// operator bearer tokens signed with JWT_SECRET, or a new machine API key
// with the bcrypt hash to place in API_KEY_HASH.
//
// Usage:
//
//	go run ./cmd/tools/issue-token --subject=ops@acme.test --org=org_1 --ttl=8h
//	go run ./cmd/tools/issue-token --api-key
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"payretry/internal/auth"
	"payretry/internal/config"
	"payretry/internal/engine"
)

type options struct {
	Subject string
	Org     string
	TTL     time.Duration
	APIKey  bool
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	fs.StringVar(&o.Subject, "subject", "", "Operator identity recorded as the audit actor")
	fs.StringVar(&o.Org, "org", "", "Confine the token to one organisation (empty: all)")
	fs.DurationVar(&o.TTL, "ttl", 12*time.Hour, "Token lifetime")
	fs.BoolVar(&o.APIKey, "api-key", false, "Generate a machine API key instead of a token")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if !o.APIKey && o.Subject == "" {
		return nil, errors.New("--subject is required")
	}
	return &o, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options, out io.Writer) error {
	if opts.APIKey {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "API key (give to the caller):  %s\nAPI_KEY_HASH (configure):     %s\n", key, hash)
		return nil
	}

	if err := config.ResolveSecrets(engine.SecretProvider()); err != nil {
		return fmt.Errorf("resolving secrets: %w", err)
	}
	secret := os.Getenv("JWT_SECRET")
	if len(secret) < 32 {
		return errors.New("JWT_SECRET must be set and at least 32 characters")
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "payretry"
	}
	return issue(out, auth.NewTokenService(secret, issuer, opts.TTL, nil), opts)
}

func issue(out io.Writer, tokens *auth.TokenService, opts *options) error {
	token, err := tokens.Issue(opts.Subject, opts.Org)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
