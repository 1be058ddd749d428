package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floodwatch/internal/logging"
	"floodwatch/internal/risk"
)

// Notification carries a tier change and the advisory rendered for it.
type Notification struct {
	Tier      risk.Tier
	Previous  risk.Tier
	Outlook   risk.Outlook
	Level     decimal.Decimal
	Location  string
	Timestamp time.Time
	Advisory  string
	// Simulated marks notifications produced by the simulate-alert command.
	Simulated bool
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "alert_telegram"),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.New("send telegram request: " + redact(err.Error(), n.botToken))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("tier", note.Tier.String()).
		Str("previous", note.Previous.String()).
		Str("level", note.Level.String()).
		Bool("simulated", note.Simulated).
		Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes notifications to the log instead of an external channel.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.Component(logger, "alert_log")}
}

// Notify logs the rendered message.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("tier", note.Tier.String()).
		Str("previous", note.Previous.String()).
		Str("level", note.Level.String()).
		Bool("simulated", note.Simulated).
		Msg(renderMessage(note))
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	if note.Simulated {
		builder.WriteString("[Flood Alert - SIMULATION]\n")
	} else {
		builder.WriteString("[Flood Alert]\n")
	}
	builder.WriteString(fmt.Sprintf("Tier: %s (was %s)\n", strings.ToUpper(note.Tier.String()), note.Previous.String()))
	builder.WriteString(fmt.Sprintf("Level: %s%%", note.Level.StringFixed(1)))
	if note.Location != "" {
		builder.WriteString(fmt.Sprintf(" at %s", note.Location))
	}
	builder.WriteString("\n")
	if !note.Timestamp.IsZero() {
		builder.WriteString(fmt.Sprintf("Reading: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	}
	if note.Outlook != "" {
		builder.WriteString(fmt.Sprintf("Outlook: %s\n", note.Outlook))
	}
	if note.Advisory != "" {
		builder.WriteString("\n")
		builder.WriteString(note.Advisory)
	}
	return builder.String()
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
