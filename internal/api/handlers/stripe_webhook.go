// The Stripe webhook is NOT behind auth middleware: Stripe calls it directly
// and the Stripe-Signature header (HMAC-SHA256 over the raw body) is the only
// credential.

package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payretry/internal/attempt"
	"payretry/internal/core"
	"payretry/internal/external"
	"payretry/internal/types"
)

// PaymentConfirmer resolves SUBMITTED attempts from payment webhooks.
type PaymentConfirmer interface {
	ConfirmByPaymentIntent(ctx context.Context, paymentIntentID string, conf types.AttemptConfirmation) (*attempt.Result, error)
}

var stripeWebhookActor = types.AuditActor{Type: types.ActorWebhook, ID: "stripe"}

// StripeWebhookHandler applies asynchronous payment outcomes to attempts.
type StripeWebhookHandler struct {
	confirmer PaymentConfirmer
	verifier  external.WebhookVerifier
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. An empty secret
// rejects every delivery.
func NewStripeWebhookHandler(confirmer PaymentConfirmer, verifier external.WebhookVerifier, secret string, l *slog.Logger) *StripeWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &StripeWebhookHandler{confirmer: confirmer, verifier: verifier, secret: secret, logger: l}
}

// RegisterRoutes mounts the webhook route.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle handles POST /webhooks/stripe.
//
// Once the signature is verified the handler acknowledges with 200 even when
// the event cannot be applied (unknown payment intent, attempt already
// final), since Stripe would otherwise redeliver it for days. Only storage
// failures answer 500 so the delivery is retried.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Stripe-Signature header", nil))
		return
	}
	if h.secret == "" {
		h.logger.ErrorContext(r.Context(), "stripe webhook secret not configured")
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "webhook signature verification failed", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "webhook signature verification failed", err))
		return
	}

	evt, ok, err := external.ParsePaymentEvent(payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := types.WithActor(r.Context(), stripeWebhookActor)
	res, err := h.confirmer.ConfirmByPaymentIntent(ctx, evt.PaymentIntentID, evt.Confirmation)
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "payment confirmation applied",
			"event_id", evt.EventID,
			"payment_intent_id", evt.PaymentIntentID,
			"attempt_id", res.Attempt.ID,
			"outcome", res.Outcome,
		)
	case isServerError(err):
		h.logger.ErrorContext(ctx, "payment confirmation failed",
			"event_id", evt.EventID,
			"payment_intent_id", evt.PaymentIntentID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	default:
		h.logger.WarnContext(ctx, "payment confirmation ignored",
			"event_id", evt.EventID,
			"payment_intent_id", evt.PaymentIntentID,
			"error", err,
		)
	}
	w.WriteHeader(http.StatusOK)
}
