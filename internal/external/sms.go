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

// SMSGatewayConfig configures SMSGatewayClient.
type SMSGatewayConfig struct {
	BaseURL  string
	APIKey   string
	SenderID string
	Logger   *slog.Logger
}

// SMSGatewayClient delivers SMS reminders through a JSON gateway exposing
// POST /messages. The gateway renders the template and deduplicates on the
// reference field.
type SMSGatewayClient struct {
	base     *BaseClient
	baseURL  string
	apiKey   string
	senderID string
	logger   *slog.Logger
}

// NewSMSGatewayClient creates an SMSGatewayClient.
func NewSMSGatewayClient(httpClient *http.Client, cfg SMSGatewayConfig, opts ...BaseClientOption) *SMSGatewayClient {
	base := NewBaseClient(httpClient, "sms-gateway", RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}, "PayRetry/1.0", opts...)
	return NewSMSGatewayClientWithBase(base, cfg)
}

// NewSMSGatewayClientWithBase creates an SMSGatewayClient with a
// pre-configured BaseClient.
func NewSMSGatewayClientWithBase(base *BaseClient, cfg SMSGatewayConfig) *SMSGatewayClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSGatewayClient{
		base:     base,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		senderID: cfg.SenderID,
		logger:   logger,
	}
}

type smsRequest struct {
	To         string         `json:"to"`
	From       string         `json:"from,omitempty"`
	TemplateID string         `json:"template_id"`
	Variables  map[string]any `json:"variables,omitempty"`
	Reference  string         `json:"reference"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Send implements types.NotificationSender for the SMS channel.
func (c *SMSGatewayClient) Send(ctx context.Context, msg types.OutboundMessage) (*types.SendResult, error) {
	if msg.Channel != types.ChannelSMS {
		return nil, unsupportedChannel("sms-gateway", msg.Channel)
	}
	body, err := json.Marshal(smsRequest{
		To:         msg.Recipient,
		From:       c.senderID,
		TemplateID: msg.TemplateID,
		Variables:  msg.Variables,
		Reference:  msg.IdempotencyKey,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalSerialization, "failed to marshal SMS request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create SMS request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, wrapProviderError("sms-gateway", err)
	}
	defer resp.Body.Close()
	raw := readBody(resp)

	var out smsResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		msg := out.Error
		if msg == "" {
			msg = string(raw)
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamNotification,
			fmt.Sprintf("SMS gateway error (%d): %s", resp.StatusCode, msg), nil)
	}
	if out.ID == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamNotification, "SMS gateway response without message id", nil)
	}
	return &types.SendResult{ProviderName: "sms-gateway", ProviderMessageID: out.ID, Status: out.Status}, nil
}

var _ types.NotificationSender = (*SMSGatewayClient)(nil)
