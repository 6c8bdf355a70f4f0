// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/theorem-bounty-sync/internal/syncer"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// Payload types
const (
	TypeSyncCompleted = "sync.completed"
	TypeSyncDegraded  = "sync.degraded"
	TypeSyncFailed    = "sync.failed"
)

// WebhookConfig holds webhook notifier configuration
type WebhookConfig struct {
	URL           string
	Headers       map[string]string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	MaxDelay      time.Duration
	// OnlyIssues suppresses notifications for clean runs
	OnlyIssues bool
	Version    string
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Version   string         `json:"version"`
	FromBlock uint64         `json:"from_block"`
	Report    *syncer.Report `json:"report,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// WebhookNotifier posts the outcome of every sync run to a webhook
type WebhookNotifier struct {
	config     WebhookConfig
	logger     *logrus.Entry
	httpClient *http.Client
}

// NewWebhookNotifier creates a notifier. It returns nil when no URL is configured.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	if config.URL == "" {
		return nil
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}

	return &WebhookNotifier{
		config: config,
		logger: utils.ComponentLogger("webhook"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// RunFinished implements syncer.RunObserver. Delivery failures are logged
// and never affect the run.
func (wn *WebhookNotifier) RunFinished(ctx context.Context, fromBlock uint64, report *syncer.Report, runErr error) {
	payload := BuildPayload(fromBlock, report, runErr, wn.config.Version)
	if wn.config.OnlyIssues && payload.Type == TypeSyncCompleted {
		return
	}

	// The run context may already be canceled when a run times out.
	if err := wn.Send(context.WithoutCancel(ctx), payload); err != nil {
		wn.logger.WithError(err).WithField("type", payload.Type).Error("Webhook delivery failed")
	}
}

// BuildPayload classifies a run outcome
func BuildPayload(fromBlock uint64, report *syncer.Report, runErr error, version string) *WebhookPayload {
	payload := &WebhookPayload{
		Type:      TypeSyncCompleted,
		Timestamp: time.Now().UTC(),
		Source:    "theorem-bounty-sync",
		Version:   version,
		FromBlock: fromBlock,
		Report:    report,
	}

	switch {
	case runErr != nil:
		payload.Type = TypeSyncFailed
		payload.Error = runErr.Error()
	case report != nil && (len(report.SkippedChunks) > 0 || report.DroppedEvents > 0):
		payload.Type = TypeSyncDegraded
	}
	return payload
}

// Send delivers payload, retrying with exponential backoff
func (wn *WebhookNotifier) Send(ctx context.Context, payload *WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.WrapError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err)
	}

	var lastErr error
	for attempt := 1; attempt <= wn.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			delay := wn.retryDelay(attempt)
			wn.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay,
				"error":   lastErr,
			}).Warn("Webhook attempt failed, retrying")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		status, err := wn.post(ctx, body)
		wn.logger.WithFields(logrus.Fields{
			"url":           wn.config.URL,
			"status_code":   status,
			"response_time": time.Since(start),
			"attempt":       attempt,
		}).Debug("Webhook sent")

		if err == nil {
			return nil
		}
		lastErr = err
	}

	return lastErr
}

func (wn *WebhookNotifier) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, utils.WrapError(utils.ErrCodeInternal, "Failed to create webhook request", err)
	}

	for key, value := range wn.config.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "theorem-bounty-sync/"+wn.config.Version)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return 0, utils.WrapError(utils.ErrCodeConnection, "Failed to send webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, utils.NewAppError(utils.ErrCodeConnection,
			"Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, snippet))
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// retryDelay is base * 2^(attempt-2), capped at MaxDelay
func (wn *WebhookNotifier) retryDelay(attempt int) time.Duration {
	delay := wn.config.RetryDelay << uint(attempt-2)
	if delay < 0 || delay > wn.config.MaxDelay {
		delay = wn.config.MaxDelay
	}
	return delay
}
