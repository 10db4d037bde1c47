package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"payretry/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emailMessage() types.OutboundMessage {
	return types.OutboundMessage{
		Channel:        types.ChannelEmail,
		TemplateID:     "d-retry-before",
		Variables:      map[string]any{"amount": "49.90"},
		Recipient:      "ada@example.com",
		RecipientName:  "Ada",
		IdempotencyKey: "sch_1:BEFORE_RETRY:EMAIL:initial",
	}
}

func TestSendGridSend(t *testing.T) {
	var payload sendGridMailPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Header().Set("X-Message-Id", "sg_msg_1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewSendGridClientWithBase(newTestClient(fastPolicy(0)), SendGridClientConfig{
		APIKey: "SG.key", BaseURL: server.URL, FromAddress: "billing@payretry.io", FromName: "Billing",
	})
	res, err := client.Send(context.Background(), emailMessage())
	require.NoError(t, err)
	assert.Equal(t, "sendgrid", res.ProviderName)
	assert.Equal(t, "sg_msg_1", res.ProviderMessageID)

	assert.Equal(t, "d-retry-before", payload.TemplateID)
	assert.Equal(t, "billing@payretry.io", payload.From.Email)
	require.Len(t, payload.Personalizations, 1)
	assert.Equal(t, "ada@example.com", payload.Personalizations[0].To[0].Email)
	assert.Equal(t, "49.90", payload.Personalizations[0].DynamicData["amount"])
	assert.Equal(t, "sch_1:BEFORE_RETRY:EMAIL:initial", payload.CustomArgs["reminder_key"])
}

func TestSendGridSendErrors(t *testing.T) {
	tests := []struct {
		status int
		want   types.ErrorCode
	}{
		{http.StatusForbidden, types.ErrCodeUpstreamRejected},
		{http.StatusBadRequest, types.ErrCodeUpstreamNotification},
		{http.StatusInternalServerError, types.ErrCodeUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"errors":[{"message":"nope"}]}`)
			}))
			defer server.Close()

			client := NewSendGridClientWithBase(newTestClient(fastPolicy(0)), SendGridClientConfig{BaseURL: server.URL})
			_, err := client.Send(context.Background(), emailMessage())
			assert.True(t, types.HasCode(err, tt.want), "got %v", err)
		})
	}

	client := NewSendGridClientWithBase(newTestClient(fastPolicy(0)), SendGridClientConfig{})
	msg := emailMessage()
	msg.Channel = types.ChannelSMS
	_, err := client.Send(context.Background(), msg)
	assert.True(t, types.HasCode(err, types.ErrCodeUpstreamRejected))
}

func TestSMSGatewaySend(t *testing.T) {
	var got smsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sms-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"sms_1","status":"queued"}`)
	}))
	defer server.Close()

	client := NewSMSGatewayClientWithBase(newTestClient(fastPolicy(0)), SMSGatewayConfig{
		BaseURL: server.URL, APIKey: "sms-key", SenderID: "BILLING",
	})
	res, err := client.Send(context.Background(), types.OutboundMessage{
		Channel:        types.ChannelSMS,
		TemplateID:     "sms-failed",
		Recipient:      "+33600000000",
		IdempotencyKey: "sch_1:AFTER_RETRY_FAILED:SMS:att_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sms_1", res.ProviderMessageID)
	assert.Equal(t, "queued", res.Status)
	assert.Equal(t, "+33600000000", got.To)
	assert.Equal(t, "BILLING", got.From)
	assert.Equal(t, "sch_1:AFTER_RETRY_FAILED:SMS:att_1", got.Reference)
}

func TestSMSGatewayRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"invalid number"}`)
	}))
	defer server.Close()

	client := NewSMSGatewayClientWithBase(newTestClient(fastPolicy(0)), SMSGatewayConfig{BaseURL: server.URL})
	_, err := client.Send(context.Background(), types.OutboundMessage{Channel: types.ChannelSMS, Recipient: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number")
}

func TestParseSendGridEvents(t *testing.T) {
	events, err := ParseSendGridEvents([]byte(`[
		{"event":"processed","sg_message_id":"abc.filter1"},
		{"event":"delivered","sg_message_id":"abc.filter1"},
		{"event":"bounce","sg_message_id":"def.filter2","reason":"mailbox full"},
		{"event":"click","sg_message_id":"ghi"},
		{"event":"dropped","sg_message_id":""}
	]`))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, DeliveryEvent{ProviderMessageID: "abc", Status: "delivered", RawStatus: "delivered"}, events[0])
	assert.Equal(t, "bounced", events[1].Status)
	assert.Equal(t, "mailbox full", events[1].Reason)
	assert.Equal(t, "clicked", events[2].Status)

	_, err = ParseSendGridEvents([]byte(`{}`))
	assert.Error(t, err)
}
