package telegram

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"ai-market-analyst/internal/metrics"
	"ai-market-analyst/internal/report"
	"ai-market-analyst/internal/shared"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength is the Telegram limit for one text message, in UTF-16
// code units.
const MaxMessageLength = 4096

// Notifier delivers decision reports to a fixed set of chats.
type Notifier struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
}

// NewNotifier authorizes the bot. An empty endpoint selects the public
// Telegram API. A missing token or chat list is an UnavailableError.
func NewNotifier(token, endpoint string, chatIDs []int64) (*Notifier, error) {
	if token == "" {
		return nil, &shared.UnavailableError{Resource: "telegram", Err: fmt.Errorf("TELEGRAM_BOT_TOKEN not set")}
	}
	if len(chatIDs) == 0 {
		return nil, &shared.UnavailableError{Resource: "telegram", Err: fmt.Errorf("TELEGRAM_CHAT_IDS not set")}
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, &shared.UnavailableError{Resource: "telegram", Err: fmt.Errorf("failed to init telegram api: %w", err)}
	}
	log.Printf("[telegram] authorized on account %s", bot.Self.UserName)

	return &Notifier{api: bot, chatIDs: chatIDs}, nil
}

// SendReport sends the report to every configured chat. Delivery continues
// past a failing chat; the first error is returned.
func (n *Notifier) SendReport(ctx context.Context, r report.Report, usage *metrics.Stats) error {
	parts := splitMessage(formatReportMessage(r, usage), MaxMessageLength)

	var firstErr error
	for _, chatID := range n.chatIDs {
		for i, part := range parts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := n.api.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
				log.Printf("[telegram] failed to send part %d/%d to chat %d: %v", i+1, len(parts), chatID, err)
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to send report to chat %d: %w", chatID, err)
				}
				break
			}
		}
	}
	return firstErr
}

// formatReportMessage builds the plain-text message for a report.
func formatReportMessage(r report.Report, usage *metrics.Stats) string {
	var sb strings.Builder

	icon := map[report.Decision]string{report.Buy: "🟢", report.Sell: "🔴", report.Hold: "🟡"}[r.Decision]
	fmt.Fprintf(&sb, "%s %s: %s\n", icon, r.Subject, r.Decision)
	if r.TradeDate != "" {
		fmt.Fprintf(&sb, "📅 Trade date: %s\n", r.TradeDate)
	}
	if usage != nil {
		fmt.Fprintf(&sb, "📊 %d calls, %d tokens, $%s\n", usage.TotalCalls, usage.TotalTokens, usage.TotalCostUSD.StringFixed(4))

		agents := make([]string, 0, len(usage.Agents))
		for name := range usage.Agents {
			agents = append(agents, name)
		}
		sort.Strings(agents)
		for _, name := range agents {
			a := usage.Agents[name]
			fmt.Fprintf(&sb, "  • %s: %d tokens\n", name, a.TotalTokens)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(r.Markdown)
	return sb.String()
}

// utf16Len counts text the way Telegram measures message length.
func utf16Len(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}

// prefixWithin returns the byte length of the longest prefix of text that
// fits in limit UTF-16 code units.
func prefixWithin(text string, limit int) int {
	units := 0
	for i, r := range text {
		units += utf16.RuneLen(r)
		if units > limit {
			return i
		}
	}
	return len(text)
}

// splitMessage cuts text into chunks of at most limit UTF-16 code units,
// preferring paragraph then line boundaries.
func splitMessage(text string, limit int) []string {
	var parts []string
	for {
		if utf16Len(text) <= limit {
			if strings.TrimSpace(text) != "" {
				parts = append(parts, text)
			}
			return parts
		}

		head := text[:prefixWithin(text, limit)]
		cut := strings.LastIndex(head, "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(head, "\n")
		}
		if cut <= 0 {
			cut = len(head)
		}
		if chunk := strings.TrimRight(head[:cut], "\n"); strings.TrimSpace(chunk) != "" {
			parts = append(parts, chunk)
		}
		text = strings.TrimLeft(text[cut:], "\n")
	}
}
