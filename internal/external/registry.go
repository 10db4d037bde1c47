package external

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"payretry/internal/config"
	"payretry/internal/types"
)

// ChannelRouter is the NotificationSender handed to the Reminder Engine. It
// dispatches each message to the provider registered for its channel.
type ChannelRouter struct {
	senders map[types.ReminderChannel]types.NotificationSender
}

// NewChannelRouter creates an empty router.
func NewChannelRouter() *ChannelRouter {
	return &ChannelRouter{senders: make(map[types.ReminderChannel]types.NotificationSender)}
}

// Register binds a channel to a sender, replacing any previous binding.
func (r *ChannelRouter) Register(channel types.ReminderChannel, sender types.NotificationSender) *ChannelRouter {
	r.senders[channel] = sender
	return r
}

// Send implements types.NotificationSender.
func (r *ChannelRouter) Send(ctx context.Context, msg types.OutboundMessage) (*types.SendResult, error) {
	sender, ok := r.senders[msg.Channel]
	if !ok {
		return nil, unsupportedChannel("notification router", msg.Channel)
	}
	return sender.Send(ctx, msg)
}

// Supports reports whether a sender is registered for channel.
func (r *ChannelRouter) Supports(channel types.ReminderChannel) bool {
	_, ok := r.senders[channel]
	return ok
}

// ClientRegistry holds every outbound capability the services use.
type ClientRegistry struct {
	Payments types.PaymentSubmitter
	Notifier *ChannelRouter

	StripeVerifier WebhookVerifier
	EmailVerifier  EmailVerifier
}

// NewClientRegistry builds real clients from configuration. Providers set to
// "stub", and every provider in the local environment, get stub
// implementations so the services boot without credentials. opts apply to
// every real client's BaseClient.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...BaseClientOption) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	local := cfg.Environment == "local"
	stubLogger := logger.With("mode", "stub")
	reg := &ClientRegistry{Notifier: NewChannelRouter()}

	if local || cfg.Payments.Provider == "stub" {
		reg.Payments = NewStubPaymentSubmitter(stubLogger)
		reg.StripeVerifier = NewStubWebhookVerifier(stubLogger)
	} else {
		// Below the executor's submit timeout so a hung call surfaces as an
		// upstream timeout from the client first.
		timeout := cfg.Payments.SubmitTimeout - time.Second
		if timeout <= 0 {
			timeout = cfg.Payments.SubmitTimeout
		}
		reg.Payments = NewStripeClient(&http.Client{Timeout: timeout}, StripeClientConfig{
			SecretKey: cfg.Payments.StripeSecretKey.Unmask(),
			BaseURL:   cfg.Payments.StripeBaseURL,
			Logger:    logger.With("client", "stripe"),
		}, opts...)
		reg.StripeVerifier = &StripeVerifier{}
	}

	if local || cfg.Notifications.EmailProvider == "stub" {
		reg.Notifier.Register(types.ChannelEmail, NewStubNotifier(stubLogger))
		reg.EmailVerifier = NewStubEmailVerifier(stubLogger)
	} else {
		reg.Notifier.Register(types.ChannelEmail, NewSendGridClient(&http.Client{Timeout: 10 * time.Second}, SendGridClientConfig{
			APIKey:      cfg.Notifications.SendGridAPIKey.Unmask(),
			FromAddress: cfg.Notifications.FromAddress,
			FromName:    cfg.Notifications.FromName,
			Logger:      logger.With("client", "sendgrid"),
		}, opts...))
		reg.EmailVerifier = &SendGridVerifier{}
	}

	switch {
	case cfg.Notifications.SMSGatewayURL != "" && !local:
		reg.Notifier.Register(types.ChannelSMS, NewSMSGatewayClient(&http.Client{Timeout: 10 * time.Second}, SMSGatewayConfig{
			BaseURL:  cfg.Notifications.SMSGatewayURL,
			APIKey:   cfg.Notifications.SMSGatewayAPIKey.Unmask(),
			SenderID: cfg.Notifications.SMSSenderID,
			Logger:   logger.With("client", "sms-gateway"),
		}, opts...))
	case local:
		reg.Notifier.Register(types.ChannelSMS, NewStubNotifier(stubLogger))
	}

	logger.Info("external clients initialised",
		"environment", cfg.Environment,
		"payment_provider", cfg.Payments.Provider,
		"email_provider", cfg.Notifications.EmailProvider,
		"sms_enabled", reg.Notifier.Supports(types.ChannelSMS),
	)
	return reg
}
