package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/httputil"
)

const DefaultBotName = "TrahnPerps"

// Notifier receives human-readable alerts for orders and status changes.
type Notifier interface {
	Send(ctx context.Context, msg string)
}

type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *zap.Logger
}

func NewSender(webhookURL, botName string, log *zap.Logger) *Sender {
	if botName == "" {
		botName = DefaultBotName
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Logger:      log,
		},
		log: log,
	}
}

// Send logs msg and, when a webhook is configured, posts it. Failures are
// logged and swallowed.
func (s *Sender) Send(ctx context.Context, msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.log.Info("notify", zap.String("message", formatted))

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.Error("notify marshal", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.Warn("notification failed after retries", zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.Warn("notification rejected", zap.Int("status", resp.StatusCode))
	}
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
