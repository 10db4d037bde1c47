package external

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// EmailVerifier abstracts SendGrid Event Webhook signature checking.
type EmailVerifier interface {
	// Verify reports whether signature is a valid signature of
	// timestamp+payload under publicKey.
	Verify(payload []byte, signature string, timestamp string, publicKey string) (bool, error)
}
