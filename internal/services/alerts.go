package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Alerter raises operator-facing alarms: stalled chains, rounds voided by
// timeout and fairness mismatches.
type Alerter interface {
	Alert(ctx context.Context, title, text string)
}

type LogAlerter struct {
	log *zap.Logger
}

func NewLogAlerter(log *zap.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

func (a *LogAlerter) Alert(ctx context.Context, title, text string) {
	a.log.Warn("alert", zap.String("title", title), zap.String("text", text))
}

type webhookMessage struct {
	MsgType string             `json:"msg_type"`
	Content webhookTextContent `json:"content"`
}

type webhookTextContent struct {
	Text string `json:"text"`
}

// WebhookAlerter posts alerts as chat bot text messages and always logs them.
type WebhookAlerter struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func NewWebhookAlerter(url string, log *zap.Logger) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (a *WebhookAlerter) Alert(ctx context.Context, title, text string) {
	a.log.Warn("alert", zap.String("title", title), zap.String("text", text))

	if err := a.send(ctx, fmt.Sprintf("[%s]\n%s", title, text)); err != nil {
		a.log.Error("alert webhook failed", zap.String("title", title), zap.Error(err))
	}
}

func (a *WebhookAlerter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookMessage{MsgType: "text", Content: webhookTextContent{Text: text}})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
