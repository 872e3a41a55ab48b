// webhook.go implements the webhook notification channel: a JSON POST of the
// alert and its context to a configured endpoint. Any non-2xx response counts
// as a delivery failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/audit-sentinel/audit-sentinel/internal/alert"
	"github.com/audit-sentinel/audit-sentinel/internal/config"
)

// WebhookChannel posts alerts to an HTTP endpoint.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client

	environment string
	release     string
	service     string
	version     string
}

// webhookPayload is the wire shape of an alert notification.
type webhookPayload struct {
	Alert    webhookAlert    `json:"alert"`
	Context  alert.Context   `json:"context"`
	Metadata webhookMetadata `json:"metadata"`
}

type webhookAlert struct {
	Name        string    `json:"name"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
	Release     string    `json:"release,omitempty"`
}

type webhookMetadata struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// NewWebhookChannel creates the webhook channel from configuration.
// environment/release tag the payload; service/version identify the sender.
func NewWebhookChannel(cfg *config.WebhookChannelConfig, environment, release, service, version string) *WebhookChannel {
	return &WebhookChannel{
		url:     cfg.URL,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout: cfg.Timeout(),
		},
		environment: environment,
		release:     release,
		service:     service,
		version:     version,
	}
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return alert.ChannelWebhook }

// Send implements Channel.
func (w *WebhookChannel) Send(ctx context.Context, rule alert.Rule, alertCtx alert.Context) error {
	if w.url == "" {
		return fmt.Errorf("webhook channel has no URL configured")
	}

	payload := webhookPayload{
		Alert: webhookAlert{
			Name:        rule.Name,
			Severity:    string(rule.Severity),
			Timestamp:   time.Now().UTC(),
			Environment: w.environment,
			Release:     w.release,
		},
		Context: alertCtx,
		Metadata: webhookMetadata{
			Service: w.service,
			Version: w.version,
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
