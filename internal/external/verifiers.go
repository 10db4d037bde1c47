package external

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// SendGridVerifier implements EmailVerifier. SendGrid signs Event Webhook
// payloads with ECDSA P-256 over SHA-256(timestamp + payload).
type SendGridVerifier struct{}

// Verify checks the X-Twilio-Email-Event-Webhook-Signature header against the
// X-Twilio-Email-Event-Webhook-Timestamp header and the raw body. It returns
// (false, err) only when the inputs are malformed.
func (v *SendGridVerifier) Verify(payload []byte, signature string, timestamp string, publicKey string) (bool, error) {
	ecdsaKey, err := parseECPublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("failed to parse public key: %w", err)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}

	r, s, err := parseECDSASignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse ECDSA signature: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write(payload)
	digest := h.Sum(nil)

	return ecdsa.Verify(ecdsaKey, digest, r, s), nil
}

// parseECPublicKey parses an Elliptic Curve public key from a base64-encoded
// string. It supports both raw base64-encoded DER format and PEM-wrapped keys.
func parseECPublicKey(publicKeyStr string) (*ecdsa.PublicKey, error) {
	if publicKeyStr == "" {
		return nil, errors.New("public key is empty")
	}

	// First, try to decode as PEM.
	block, _ := pem.Decode([]byte(publicKeyStr))
	var derBytes []byte
	if block != nil {
		derBytes = block.Bytes
	} else {
		// Assume raw base64-encoded DER.
		var err error
		derBytes, err = base64.StdEncoding.DecodeString(publicKeyStr)
		if err != nil {
			return nil, fmt.Errorf("failed to base64-decode public key: %w", err)
		}
	}

	// Parse the DER-encoded public key.
	pub, err := x509.ParsePKIXPublicKey(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
	}

	ecdsaKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA (got %T)", pub)
	}

	return ecdsaKey, nil
}

// ecdsaSignature represents an ASN.1 DER-encoded ECDSA signature.
type ecdsaSignature struct {
	R, S *big.Int
}

// parseECDSASignature decodes an ASN.1 DER-encoded ECDSA signature into
// its (r, s) components.
func parseECDSASignature(sigBytes []byte) (*big.Int, *big.Int, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(sigBytes, &sig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal ASN.1 signature: %w", err)
	}
	if len(rest) > 0 {
		return nil, nil, errors.New("trailing data after ASN.1 signature")
	}
	if sig.R == nil || sig.S == nil {
		return nil, nil, errors.New("signature contains nil R or S value")
	}
	return sig.R, sig.S, nil
}

var _ EmailVerifier = (*SendGridVerifier)(nil)
