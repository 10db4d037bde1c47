package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"payretry/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL.
const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey      string
	BaseURL     string // Override for testing; defaults to sendGridAPIBase
	FromAddress string
	FromName    string
	Logger      *slog.Logger
}

// SendGridClient delivers EMAIL reminders through the v3 Mail Send API with
// Dynamic Templates.
type SendGridClient struct {
	base     *BaseClient
	apiKey   string
	baseURL  string
	fromAddr string
	fromName string
	logger   *slog.Logger
}

// NewSendGridClient creates a new SendGridClient.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig, opts ...BaseClientOption) *SendGridClient {
	base := NewBaseClient(
		httpClient,
		"sendgrid",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"PayRetry/1.0",
		opts...,
	)
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient with a pre-configured
// BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:     base,
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		fromAddr: cfg.FromAddress,
		fromName: cfg.FromName,
		logger:   logger,
	}
}

// Send transmits one reminder email and returns the X-Message-Id header as
// the provider message id. The reminder's idempotency key travels in
// custom_args so delivery events can be correlated.
//
// Error mapping:
//   - 403 Forbidden -> upstream_request_rejected (recipient suppressed)
//   - 429 / 5xx -> handled by BaseClient
//   - Other 4xx -> upstream_notification_unavailable
func (s *SendGridClient) Send(ctx context.Context, msg types.OutboundMessage) (*types.SendResult, error) {
	if msg.Channel != types.ChannelEmail {
		return nil, unsupportedChannel("sendgrid", msg.Channel)
	}
	body, err := json.Marshal(s.buildMailPayload(msg))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalSerialization, "failed to marshal SendGrid mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create SendGrid mail send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, wrapProviderError("sendgrid", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return &types.SendResult{
			ProviderName:      "sendgrid",
			ProviderMessageID: resp.Header.Get("X-Message-Id"),
			Status:            "accepted",
		}, nil
	}
	return nil, s.handleErrorResponse(resp)
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	TemplateID       string                    `json:"template_id"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To          []sendGridAddress `json:"to"`
	DynamicData map[string]any    `json:"dynamic_template_data,omitempty"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (s *SendGridClient) buildMailPayload(msg types.OutboundMessage) sendGridMailPayload {
	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{
			To:          []sendGridAddress{{Email: msg.Recipient, Name: msg.RecipientName}},
			DynamicData: msg.Variables,
		}},
		From:       sendGridAddress{Email: s.fromAddr, Name: s.fromName},
		TemplateID: msg.TemplateID,
	}
	if msg.IdempotencyKey != "" {
		payload.CustomArgs = map[string]string{"reminder_key": msg.IdempotencyKey}
	}
	return payload
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (s *SendGridClient) handleErrorResponse(resp *http.Response) error {
	body := readBody(resp)
	message := string(body)
	var sgErr sendGridErrorResponse
	if err := json.Unmarshal(body, &sgErr); err == nil && len(sgErr.Errors) > 0 {
		message = sgErr.Errors[0].Message
	}

	if resp.StatusCode == http.StatusForbidden {
		return types.NewAppError(types.ErrCodeUpstreamRejected,
			fmt.Sprintf("SendGrid blocked delivery: %s", message), nil)
	}
	return types.NewAppError(types.ErrCodeUpstreamNotification,
		fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, message), nil)
}

// wrapProviderError keeps AppErrors from BaseClient and wraps anything else.
func wrapProviderError(provider string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamNotification,
		fmt.Sprintf("%s request failed: %v", provider, err),
		err,
	)
}

func unsupportedChannel(provider string, channel types.ReminderChannel) error {
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRejected,
		fmt.Sprintf("%s cannot deliver %s reminders", provider, channel), nil,
		map[string]any{"channel": channel})
}

var _ types.NotificationSender = (*SendGridClient)(nil)

// DeliveryEvent is a normalized provider delivery callback.
type DeliveryEvent struct {
	ProviderMessageID string
	Status            string // delivered, bounced, opened, clicked, failed
	RawStatus         string
	Reason            string
}

var sendGridEventStatus = map[string]string{
	"delivered": "delivered",
	"bounce":    "bounced",
	"open":      "opened",
	"click":     "clicked",
	"dropped":   "failed",
}

type sendGridEvent struct {
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Reason      string `json:"reason"`
}

// ParseSendGridEvents decodes an Event Webhook batch. Events without a
// reminder-relevant status (processed, deferred, spam reports) are dropped.
// sg_message_id carries the X-Message-Id followed by a filter suffix, which
// is stripped.
func ParseSendGridEvents(payload []byte) ([]DeliveryEvent, error) {
	var raw []sendGridEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidInput, "malformed SendGrid event batch", err)
	}
	out := make([]DeliveryEvent, 0, len(raw))
	for _, e := range raw {
		status, ok := sendGridEventStatus[e.Event]
		if !ok || e.SGMessageID == "" {
			continue
		}
		id, _, _ := strings.Cut(e.SGMessageID, ".")
		out = append(out, DeliveryEvent{
			ProviderMessageID: id,
			Status:            status,
			RawStatus:         e.Event,
			Reason:            e.Reason,
		})
	}
	return out, nil
}
