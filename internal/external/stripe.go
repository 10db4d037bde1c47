package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"payretry/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements types.PaymentSubmitter on top of the PaymentIntents
// API. Each attempt is an off-session, immediately confirmed intent carrying
// the attempt's idempotency key, so a replayed submission returns the intent
// created the first time instead of charging twice.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

var _ types.PaymentSubmitter = (*StripeClient)(nil)

// NewStripeClient creates a new StripeClient. The httpClient timeout should
// stay below the executor's submit timeout.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig, opts ...BaseClientOption) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"PayRetry/1.0",
		opts...,
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// Submit creates and confirms a PaymentIntent for one retry attempt.
//
// Outcome mapping:
//   - succeeded -> SUCCEEDED
//   - processing, requires_action, requires_capture -> PENDING (confirmed later by webhook)
//   - requires_payment_method, canceled, 402 card errors -> FAILED with the decline code
//   - 429/5xx/transport errors -> error, the attempt stays pending reconciliation
func (s *StripeClient) Submit(ctx context.Context, sub types.PaymentSubmission) (*types.PaymentResult, error) {
	if sub.IdempotencyKey == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "payment submission without idempotency key", nil)
	}

	params := url.Values{}
	params.Set("amount", strconv.FormatInt(sub.AmountCents, 10))
	params.Set("currency", strings.ToLower(sub.Currency))
	params.Set("confirm", "true")
	params.Set("off_session", "true")
	if sub.PaymentMethodRef != "" {
		params.Set("payment_method", sub.PaymentMethodRef)
	}
	if strings.HasPrefix(sub.CustomerRef, "cus_") {
		params.Set("customer", sub.CustomerRef)
	}
	if sub.Description != "" {
		params.Set("description", sub.Description)
	}
	params.Set("metadata[organisation_id]", sub.OrganisationID)
	params.Set("metadata[schedule_id]", sub.ScheduleID)
	params.Set("metadata[attempt_number]", strconv.Itoa(sub.AttemptNumber))
	params.Set("metadata[idempotency_key]", sub.IdempotencyKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/payment_intents", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Stripe request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", sub.IdempotencyKey)
	s.setAuthHeaders(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, s.wrapStripeError("Submit", err)
	}
	defer resp.Body.Close()
	body := readBody(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		var pi stripePaymentIntent
		if err := json.Unmarshal(body, &pi); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamPayment, "failed to decode Stripe payment intent", err)
		}
		return mapPaymentIntent(&pi, body), nil

	case resp.StatusCode == http.StatusPaymentRequired:
		var se stripeErrorResponse
		if err := json.Unmarshal(body, &se); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamPayment, "Stripe returned 402 with non-JSON body", err)
		}
		res := &types.PaymentResult{
			Status:        types.PaymentFailed,
			RejectionCode: declineCode(se.Error.DeclineCode, se.Error.Code),
			Message:       se.Error.Message,
			RawResponse:   body,
		}
		if se.Error.PaymentIntent != nil {
			res.PaymentIntentID = se.Error.PaymentIntent.ID
			res.NetworkRef = se.Error.PaymentIntent.LatestCharge
		}
		s.logger.InfoContext(ctx, "stripe declined retry attempt",
			"schedule_id", sub.ScheduleID,
			"attempt_number", sub.AttemptNumber,
			"decline_code", res.RejectionCode,
		)
		return res, nil

	default:
		return nil, s.mapStripeError("Submit", resp.StatusCode, body)
	}
}

func mapPaymentIntent(pi *stripePaymentIntent, raw []byte) *types.PaymentResult {
	res := &types.PaymentResult{
		PaymentIntentID: pi.ID,
		NetworkRef:      pi.LatestCharge,
		RawResponse:     raw,
	}
	switch pi.Status {
	case "succeeded":
		res.Status = types.PaymentSucceeded
	case "requires_payment_method", "canceled":
		res.Status = types.PaymentFailed
		if e := pi.LastPaymentError; e != nil {
			res.RejectionCode = declineCode(e.DeclineCode, e.Code)
			res.Message = e.Message
		}
		if res.RejectionCode == "" {
			res.RejectionCode = strings.ToUpper(pi.CancellationReason)
		}
	default:
		res.Status = types.PaymentPending
		res.Message = "payment intent " + pi.Status
	}
	return res
}

// declineCode prefers the network decline code over Stripe's generic error
// code and upper-cases it for rejection-code normalization.
func declineCode(decline, code string) string {
	if decline != "" {
		return strings.ToUpper(decline)
	}
	return strings.ToUpper(code)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

type stripePaymentIntent struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	LatestCharge       string            `json:"latest_charge"`
	CancellationReason string            `json:"cancellation_reason"`
	Metadata           map[string]string `json:"metadata"`
	LastPaymentError   *stripeErrorBody  `json:"last_payment_error"`
}

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type          string               `json:"type"`
	Code          string               `json:"code"`
	DeclineCode   string               `json:"decline_code"`
	Message       string               `json:"message"`
	PaymentIntent *stripePaymentIntent `json:"payment_intent,omitempty"`
}

// mapStripeError translates a non-2xx, non-402 Stripe response.
func (s *StripeClient) mapStripeError(operation string, statusCode int, body []byte) error {
	var se stripeErrorResponse
	msg := string(body)
	if err := json.Unmarshal(body, &se); err == nil && se.Error.Message != "" {
		msg = se.Error.Message
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, fmt.Sprintf("%s: Stripe rate limit exceeded", operation), nil)
	case statusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("%s: Stripe server error: %s", operation, msg), nil)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamRejected,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, msg),
			nil,
			map[string]any{"stripe_type": se.Error.Type, "stripe_code": se.Error.Code},
		)
	}
}

// wrapStripeError keeps AppErrors from BaseClient and wraps anything else.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamPayment,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// Stripe event types that confirm a pending retry attempt.
const (
	EventStripeIntentSucceeded = "payment_intent.succeeded"
	EventStripeIntentFailed    = "payment_intent.payment_failed"
)

// StripeVerifier implements WebhookVerifier with stripe-go's HMAC-SHA256
// signature and timestamp tolerance check.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the Stripe-Signature
// header and the endpoint signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

// PaymentConfirmation is a decoded Stripe webhook relevant to retries.
type PaymentConfirmation struct {
	EventID         string
	PaymentIntentID string
	Confirmation    types.AttemptConfirmation
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParsePaymentEvent decodes a verified webhook payload. ok is false for event
// types that do not confirm a payment intent.
func ParsePaymentEvent(payload []byte) (conf *PaymentConfirmation, ok bool, err error) {
	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeValidationInvalidInput, "malformed Stripe event", err)
	}
	if evt.Type != EventStripeIntentSucceeded && evt.Type != EventStripeIntentFailed {
		return nil, false, nil
	}
	var pi stripePaymentIntent
	if err := json.Unmarshal(evt.Data.Object, &pi); err != nil || pi.ID == "" {
		return nil, false, types.NewAppError(types.ErrCodeValidationInvalidInput, "Stripe event without payment intent", err)
	}

	res := mapPaymentIntent(&pi, evt.Data.Object)
	if evt.Type == EventStripeIntentSucceeded {
		res.Status = types.PaymentSucceeded
	} else if res.Status != types.PaymentFailed {
		res.Status = types.PaymentFailed
	}
	return &PaymentConfirmation{
		EventID:         evt.ID,
		PaymentIntentID: pi.ID,
		Confirmation: types.AttemptConfirmation{
			Succeeded:     res.Status == types.PaymentSucceeded,
			RejectionCode: res.RejectionCode,
			Message:       res.Message,
			NetworkRef:    res.NetworkRef,
			RawResponse:   res.RawResponse,
		},
	}, true, nil
}
