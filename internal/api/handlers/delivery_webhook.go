package handlers

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payretry/internal/core"
	"payretry/internal/external"
	"payretry/internal/reminders"
	"payretry/internal/types"
)

const (
	headerSendGridSignature = "X-Twilio-Email-Event-Webhook-Signature"
	headerSendGridTimestamp = "X-Twilio-Email-Event-Webhook-Timestamp"
)

var deliveryWebhookActor = types.AuditActor{Type: types.ActorWebhook, ID: "delivery-status"}

// DeliveryResult reports what a delivery callback changed.
type DeliveryResult struct {
	Accepted   bool                 `json:"accepted"`
	ReminderID string               `json:"reminder_id,omitempty"`
	Status     types.ReminderStatus `json:"status,omitempty"`
}

// DeliveryBatchResult summarises a provider event batch.
type DeliveryBatchResult struct {
	Received int `json:"received"`
	Applied  int `json:"applied"`
	Ignored  int `json:"ignored"`
}

// DeliveryWebhookHandler applies notification provider delivery callbacks
// to reminders. The generic endpoint authenticates with a shared API key;
// the SendGrid endpoint with SendGrid's ECDSA event signature.
type DeliveryWebhookHandler struct {
	reminders         ReminderService
	validator         *core.Validator
	apiKey            string
	emailVerifier     external.EmailVerifier
	sendGridPublicKey string
	logger            *slog.Logger
}

// NewDeliveryWebhookHandler creates a DeliveryWebhookHandler. An empty
// apiKey or sendGridPublicKey disables the corresponding endpoint.
func NewDeliveryWebhookHandler(
	reminders ReminderService,
	v *core.Validator,
	apiKey string,
	emailVerifier external.EmailVerifier,
	sendGridPublicKey string,
	l *slog.Logger,
) *DeliveryWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &DeliveryWebhookHandler{
		reminders:         reminders,
		validator:         v,
		apiKey:            apiKey,
		emailVerifier:     emailVerifier,
		sendGridPublicKey: sendGridPublicKey,
		logger:            l,
	}
}

// RegisterRoutes mounts the delivery webhook routes.
func (h *DeliveryWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/delivery-status", h.HandleDeliveryStatus)
	r.Post("/webhooks/sendgrid", h.HandleSendGrid)
}

// HandleDeliveryStatus handles POST /webhooks/delivery-status. Callbacks for
// unknown messages or transitions the reminder no longer allows are
// acknowledged with accepted=false.
func (h *DeliveryWebhookHandler) HandleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-API-Key")
	if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid webhook API key", nil))
		return
	}

	var u reminders.DeliveryUpdate
	if err := core.DecodeJSON(w, r, &u); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(u); err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := types.WithActor(r.Context(), deliveryWebhookActor)
	rem, err := h.apply(ctx, u)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	res := DeliveryResult{Accepted: rem != nil}
	if rem != nil {
		res.ReminderID = rem.ID
		res.Status = rem.Status
	}
	core.Data(w, r, http.StatusOK, res)
}

// HandleSendGrid handles POST /webhooks/sendgrid, the SendGrid Event Webhook.
// A batch that hits a storage failure answers 500 so SendGrid redelivers it;
// events already applied are no-ops the second time.
func (h *DeliveryWebhookHandler) HandleSendGrid(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "failed to read request body", err))
		return
	}

	signature := r.Header.Get(headerSendGridSignature)
	timestamp := r.Header.Get(headerSendGridTimestamp)
	if signature == "" || timestamp == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing event webhook signature", nil))
		return
	}
	if h.sendGridPublicKey == "" || h.emailVerifier == nil {
		h.logger.ErrorContext(r.Context(), "sendgrid webhook public key not configured")
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "event webhook signature verification failed", nil))
		return
	}
	valid, err := h.emailVerifier.Verify(payload, signature, timestamp, h.sendGridPublicKey)
	if err != nil || !valid {
		h.logger.WarnContext(r.Context(), "sendgrid signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "event webhook signature verification failed", err))
		return
	}

	events, err := external.ParseSendGridEvents(payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := types.WithActor(r.Context(), types.AuditActor{Type: types.ActorWebhook, ID: "sendgrid"})
	res := DeliveryBatchResult{Received: len(events)}
	for _, e := range events {
		rem, err := h.apply(ctx, reminders.DeliveryUpdate{
			ProviderMessageID: e.ProviderMessageID,
			Status:            e.Status,
			RawStatus:         e.RawStatus,
			ErrorMessage:      e.Reason,
		})
		if err != nil {
			core.Error(w, r, err)
			return
		}
		if rem != nil {
			res.Applied++
		} else {
			res.Ignored++
		}
	}
	core.Data(w, r, http.StatusOK, res)
}

// apply runs one update. It returns (nil, nil) for callbacks that are
// acknowledged without effect and an error only for failures the provider
// should retry.
func (h *DeliveryWebhookHandler) apply(ctx context.Context, u reminders.DeliveryUpdate) (*types.Reminder, error) {
	rem, err := h.reminders.HandleDeliveryStatus(ctx, u)
	if err == nil {
		return rem, nil
	}
	if isServerError(err) {
		h.logger.ErrorContext(ctx, "delivery status update failed",
			"provider_message_id", u.ProviderMessageID,
			"status", u.Status,
			"error", err,
		)
		return nil, err
	}
	h.logger.WarnContext(ctx, "delivery status update ignored",
		"provider_message_id", u.ProviderMessageID,
		"status", u.Status,
		"error", err,
	)
	return nil, nil
}
