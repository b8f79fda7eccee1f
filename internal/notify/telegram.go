package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"signalbot/internal/model"
)

// TelegramNotifier sends trading events via the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramNotifier) SendSignal(ctx context.Context, s *model.Signal) error {
	text := fmt.Sprintf(
		"📈 *%s SIGNAL*\n\n"+
			"Underlying: %s\n"+
			"Option: %s\n"+
			"CMP: %.2f\n"+
			"Entry: %.2f\n"+
			"Target: %.2f\n"+
			"Stop Loss: %.2f\n"+
			"R:R: %.2f\n"+
			"RSI: %.1f | MACD hist: %.2f | ATR: %.2f\n"+
			"Generated: %s",
		s.Direction, s.Underlying, s.OptionSymbol,
		s.CurrentPrice, s.EntryPrice, s.TargetPrice, s.StopLoss, s.RiskReward,
		s.Indicators.RSI, s.Indicators.MACDHistogram, s.Indicators.ATR,
		s.GeneratedAt.Format("15:04:05"))
	return t.send(ctx, text)
}

func (t *TelegramNotifier) SendOrderUpdate(ctx context.Context, s *model.Signal, executed bool, message string) error {
	emoji := "✅"
	if !executed {
		emoji = "❌"
	}
	text := fmt.Sprintf("%s *ORDER UPDATE*\n\n%s\n%s", emoji, s.OptionSymbol, message)
	return t.send(ctx, text)
}

func (t *TelegramNotifier) SendPnLUpdate(ctx context.Context, s *model.Signal, reason model.ExitReason) error {
	emoji := "🟢"
	if s.ProfitLoss < 0 {
		emoji = "🔴"
	}
	text := fmt.Sprintf(
		"%s *TRADE CLOSED* (%s)\n\n"+
			"%s\n"+
			"Entry: %.2f → Exit: %.2f\n"+
			"P&L: %.2f",
		emoji, reason, s.OptionSymbol, s.EntryPrice, s.ExitPrice, s.ProfitLoss)
	return t.send(ctx, text)
}

func (t *TelegramNotifier) SendSystemAlert(ctx context.Context, level AlertLevel, message string) error {
	emoji := "ℹ️"
	switch level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}
	return t.send(ctx, fmt.Sprintf("%s %s", emoji, message))
}

func (t *TelegramNotifier) send(ctx context.Context, text string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       escapeMarkdown(text),
		"parse_mode": "MarkdownV2",
	})

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[telegram] message sent")
	return nil
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2,
// leaving '*' intact so bold markers survive.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
