package security

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/visitra/chaincore/internal/chainerr"
)

// Alerter emits immediate notifications for high/critical audit entries.
// Webhook delivery is best-effort and never blocks the caller.
type Alerter struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewAlerter creates an alerter. An empty webhookURL disables webhook
// delivery; alerts are still logged.
func NewAlerter(webhookURL string, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// Notify logs the entry and, if a webhook is configured, posts it
// asynchronously.
func (a *Alerter) Notify(entry *Entry) {
	attrs := []any{
		"violation", entry.ViolationKind,
		"severity", string(entry.Severity),
		"source_ip", entry.SourceIP,
		"blocked", entry.Blocked,
	}
	if entry.SubjectAddress != "" {
		attrs = append(attrs, "address", entry.SubjectAddress)
	}
	if entry.Severity == chainerr.SeverityCritical {
		a.logger.Error("security alert", attrs...)
	} else {
		a.logger.Warn("security alert", attrs...)
	}

	if a.webhookURL != "" {
		go a.fireWebhook(entry)
	}
}

func (a *Alerter) fireWebhook(entry *Entry) {
	body, err := json.Marshal(entry)
	if err != nil {
		return
	}
	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("alert webhook failed", "error", err)
		return
	}
	_ = resp.Body.Close()
}
