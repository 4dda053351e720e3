package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/httputil"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryPolicy
	logger     *slog.Logger
}

func NewSender(webhookURL, botName string, logger *slog.Logger) *Sender {
	if botName == "" {
		botName = "TrahnMarketData"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Multiplier:  2,
		},
		logger: logger.With("component", "notifications"),
	}
}

// Send logs msg and posts it to the webhook when one is configured.
func (s *Sender) Send(ctx context.Context, msg string) error {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.logger.Info("notification", "message", msg)

	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
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
		s.logger.Error("failed to send notification after retries", "error", err)
		return err
	}
	resp.Body.Close()
	return nil
}

// NotifyRun reports the outcome of a finished ETL run.
func (s *Sender) NotifyRun(ctx context.Context, run models.EtlRun) error {
	return s.Send(ctx, FormatRun(run))
}

func FormatRun(run models.EtlRun) string {
	msg := fmt.Sprintf("ETL run %s %s: %d assets, %d prices loaded, %d rejected, %d assets skipped",
		shortID(run.ID), run.Status, run.AssetsLoaded, run.PricesLoaded, run.PricesRejected, run.AssetsSkipped)
	if run.FinishedAt != nil {
		msg += fmt.Sprintf(" in %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		msg += " | " + run.Error
	}
	return msg
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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
