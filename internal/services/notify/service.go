// Package notify sends snapshot run summaries to Telegram.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/wpsnap/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for snapshot notifications.
type Service interface {
	SendReport(ctx context.Context, cfg models.TelegramConfig, report models.SnapshotReport) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the notify Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram notifier.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new notifier with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendReport posts an HTML summary of report to the configured chat.
func (s *Impl) SendReport(ctx context.Context, cfg models.TelegramConfig, report models.SnapshotReport) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", report.Success).
		Msg("sending Telegram notification")

	jsonBody, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      formatReport(report),
		ParseMode: "HTML",
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func formatReport(r models.SnapshotReport) string {
	var b bytes.Buffer

	if r.Success {
		b.WriteString("✅ <b>Snapshot Successful</b>\n\n")
	} else {
		b.WriteString("❌ <b>Snapshot Failed</b>\n\n")
	}

	fmt.Fprintf(&b, "🌐 <b>Domain:</b> %s\n", html.EscapeString(r.Domain))
	fmt.Fprintf(&b, "🆔 <b>Run:</b> <code>%s</code>\n", r.Run.ID)
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", r.Run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", r.Duration.Round(time.Second))

	if r.Success {
		b.WriteString("\n<b>📦 Artifacts:</b>\n")
		if r.Archive != nil {
			fmt.Fprintf(&b, "  • Archive: %s (%d files, %s)\n",
				html.EscapeString(r.Archive.Path), r.Archive.Files, formatSize(r.Archive.SizeBytes))
		}
		if r.Dump != nil {
			fmt.Fprintf(&b, "  • Dump: %s (%s)\n", html.EscapeString(r.Dump.OutputPath), formatSize(r.Dump.SizeBytes))
		}
		fmt.Fprintf(&b, "  • URL replacements: %d\n", r.Replacements)
		if r.Published {
			b.WriteString("  • Published: yes\n")
		}
	} else {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		fmt.Fprintf(&b, "  • Failed step: %s\n", html.EscapeString(r.FailedStep))
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", html.EscapeString(r.ErrorMessage))
	}

	return b.String()
}

func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
