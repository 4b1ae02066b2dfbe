package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/spikewatch/internal/models"
)

// formatAlert renders an alert as a Telegram MarkdownV2 message.
func formatAlert(a models.Alert) string {
	var b strings.Builder

	direction := "📈"
	if a.CurrPrice < a.PrevPrice {
		direction = "📉"
	}

	name := escapeMarkdownV2(a.Instrument.Display())
	if a.TradeURL != "" {
		fmt.Fprintf(&b, "🚨 *Volume spike* [%s](%s)\n\n", name, a.TradeURL)
	} else {
		fmt.Fprintf(&b, "🚨 *Volume spike* %s\n\n", name)
	}

	fmt.Fprintf(&b, "📊 Volume: %s → *%s* %s \\(%s\\)\n",
		escapeMarkdownV2(formatVolume(a.PrevVolume)),
		escapeMarkdownV2(formatVolume(a.CurrVolume)),
		escapeMarkdownV2(a.Instrument.Quote()),
		escapeMarkdownV2(fmt.Sprintf("%+.1f%%", a.VolumeChangePct)),
	)
	fmt.Fprintf(&b, "%s Price: %s → %s \\(%s\\)\n",
		direction,
		escapeMarkdownV2(formatPrice(a.PrevPrice)),
		escapeMarkdownV2(formatPrice(a.CurrPrice)),
		escapeMarkdownV2(fmt.Sprintf("%+.2f%%", a.PriceChangePct)),
	)
	if !a.DetectedAt.IsZero() {
		fmt.Fprintf(&b, "🕒 %s UTC", escapeMarkdownV2(a.DetectedAt.UTC().Format("2006-01-02 15:04:05")))
	}

	return b.String()
}

func alertKeyboard(actions []models.Action) (tgbotapi.InlineKeyboardMarkup, bool) {
	var row []tgbotapi.InlineKeyboardButton
	for _, act := range actions {
		switch act.Kind {
		case models.ActionPause:
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("⏸ Pause", callbackData(act)))
		case models.ActionBlacklist:
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("🚫 Blacklist", callbackData(act)))
		}
	}
	if len(row) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), true
}

func callbackData(act models.Action) string {
	return string(act.Kind) + ":" + string(act.Instrument)
}

// parseCallback splits "pause:PEPE_USDT" into its action.
func parseCallback(data string) (models.Action, bool) {
	kind, inst, ok := strings.Cut(data, ":")
	if !ok || inst == "" {
		return models.Action{}, false
	}
	switch models.ActionKind(kind) {
	case models.ActionPause, models.ActionBlacklist:
		return models.Action{Kind: models.ActionKind(kind), Instrument: models.Instrument(inst)}, true
	}
	return models.Action{}, false
}

// formatVolume renders whole units with thousands separators.
func formatVolume(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// formatPrice keeps every significant digit so sub-cent prices stay readable.
func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
