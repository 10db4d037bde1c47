package external

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendGridKeys(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, base64.StdEncoding.EncodeToString(der)
}

func signSendGrid(t *testing.T, key *ecdsa.PrivateKey, timestamp string, payload []byte) string {
	t.Helper()
	digest := sha256.Sum256(append([]byte(timestamp), payload...))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func TestSendGridVerifier(t *testing.T) {
	key, pub := sendGridKeys(t)
	payload := []byte(`[{"event":"delivered","sg_message_id":"abc.f"}]`)
	sig := signSendGrid(t, key, "1700000000", payload)
	v := &SendGridVerifier{}

	ok, err := v.Verify(payload, sig, "1700000000", pub)
	require.NoError(t, err)
	assert.True(t, ok)

	der, _ := base64.StdEncoding.DecodeString(pub)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	ok, err = v.Verify(payload, sig, "1700000000", pemKey)
	require.NoError(t, err)
	assert.True(t, ok, "PEM keys are accepted")

	ok, err = v.Verify(payload, sig, "1700000001", pub)
	require.NoError(t, err)
	assert.False(t, ok, "timestamp is part of the signed content")

	ok, err = v.Verify([]byte(`[]`), sig, "1700000000", pub)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendGridVerifier_MalformedInputs(t *testing.T) {
	_, pub := sendGridKeys(t)
	v := &SendGridVerifier{}

	_, err := v.Verify(nil, "sig", "1", "")
	assert.Error(t, err)
	_, err = v.Verify(nil, "%%%", "1", pub)
	assert.Error(t, err)
	_, err = v.Verify(nil, base64.StdEncoding.EncodeToString([]byte("not asn1")), "1", pub)
	assert.Error(t, err)
}
