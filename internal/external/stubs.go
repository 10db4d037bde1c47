package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"payretry/internal/types"
)

// Stub implementations let the services boot locally without provider
// credentials. They log every call and return predictable values.

// StubPaymentSubmitter settles every submission unless the payment method
// reference asks otherwise:
//
//	pm_fail_<CODE>  -> FAILED with rejection code CODE
//	pm_pending      -> PENDING
//
// Results are remembered per idempotency key like the real network.
type StubPaymentSubmitter struct {
	logger *slog.Logger

	mu      sync.Mutex
	results map[string]*types.PaymentResult
}

// NewStubPaymentSubmitter creates a new StubPaymentSubmitter.
func NewStubPaymentSubmitter(logger *slog.Logger) *StubPaymentSubmitter {
	return &StubPaymentSubmitter{logger: logger, results: make(map[string]*types.PaymentResult)}
}

func (s *StubPaymentSubmitter) Submit(ctx context.Context, sub types.PaymentSubmission) (*types.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.results[sub.IdempotencyKey]; ok {
		return res, nil
	}

	res := &types.PaymentResult{
		Status:          types.PaymentSucceeded,
		PaymentIntentID: "pi_stub_" + shortHash(sub.IdempotencyKey),
	}
	switch {
	case strings.HasPrefix(sub.PaymentMethodRef, "pm_fail_"):
		res.Status = types.PaymentFailed
		res.RejectionCode = strings.TrimPrefix(sub.PaymentMethodRef, "pm_fail_")
		res.Message = "stub rejection"
	case sub.PaymentMethodRef == "pm_pending":
		res.Status = types.PaymentPending
	}
	s.results[sub.IdempotencyKey] = res

	s.logger.InfoContext(ctx, "stub: payment submitted",
		"schedule_id", sub.ScheduleID,
		"attempt_number", sub.AttemptNumber,
		"amount_cents", sub.AmountCents,
		"status", res.Status,
	)
	return res, nil
}

// StubNotifier accepts every message on every channel.
type StubNotifier struct {
	logger *slog.Logger
}

// NewStubNotifier creates a new StubNotifier.
func NewStubNotifier(logger *slog.Logger) *StubNotifier {
	return &StubNotifier{logger: logger}
}

func (s *StubNotifier) Send(ctx context.Context, msg types.OutboundMessage) (*types.SendResult, error) {
	s.logger.InfoContext(ctx, "stub: reminder sent",
		"channel", msg.Channel,
		"template_id", msg.TemplateID,
		"recipient", msg.Recipient,
	)
	return &types.SendResult{
		ProviderName:      "stub",
		ProviderMessageID: "msg_stub_" + shortHash(msg.IdempotencyKey),
		Status:            "accepted",
	}, nil
}

// StubWebhookVerifier accepts every Stripe payload.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: webhook signature accepted", "payload_bytes", len(payload))
	return nil
}

// StubEmailVerifier accepts every SendGrid payload.
type StubEmailVerifier struct {
	logger *slog.Logger
}

// NewStubEmailVerifier creates a new StubEmailVerifier.
func NewStubEmailVerifier(logger *slog.Logger) *StubEmailVerifier {
	return &StubEmailVerifier{logger: logger}
}

func (s *StubEmailVerifier) Verify(payload []byte, signature string, timestamp string, publicKey string) (bool, error) {
	s.logger.Info("stub: email webhook signature accepted", "payload_bytes", len(payload))
	return true, nil
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

var (
	_ types.PaymentSubmitter   = (*StubPaymentSubmitter)(nil)
	_ types.NotificationSender = (*StubNotifier)(nil)
	_ WebhookVerifier          = (*StubWebhookVerifier)(nil)
	_ EmailVerifier            = (*StubEmailVerifier)(nil)
)
