package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/auth"
	"payretry/internal/types"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssue_TokenResolvesToOperator(t *testing.T) {
	tokens := auth.NewTokenService(secret, "payretry", time.Hour, nil)
	var out bytes.Buffer

	require.NoError(t, issue(&out, tokens, &options{Subject: "ops@acme.test", Org: "org_1"}))

	authn := auth.NewAuthenticator(tokens, auth.NewAPIKeyVerifier(""))
	p, err := authn.ResolveBearer(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, types.AuditActor{Type: types.ActorUser, ID: "ops@acme.test"}, p.Actor)
	assert.Equal(t, "org_1", p.OrganisationID)
}

func TestRun_APIKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(&options{APIKey: true}, &out))
	assert.Contains(t, out.String(), auth.APIKeyPrefix)
	assert.Contains(t, out.String(), "$2a$")
}

func TestRun_TokenNeedsSecret(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("JWT_SECRET", "short")
	err := run(&options{Subject: "ops"}, io.Discard)
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestParseArgs(t *testing.T) {
	o, err := parseArgs([]string{"--subject=ops", "--ttl=2h"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, o.TTL)

	_, err = parseArgs(nil, io.Discard)
	assert.Error(t, err)

	o, err = parseArgs([]string{"--api-key"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, o.APIKey)
}
