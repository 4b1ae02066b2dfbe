package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/spikewatch/internal/models"
)

const historyLimit = 10

// Controller is the scanner surface exposed to the operator.
type Controller interface {
	RefreshNow(ctx context.Context) (int, error)
	Pause(ctx context.Context, inst models.Instrument) error
	Resume(ctx context.Context, inst models.Instrument) error
	Blacklist(ctx context.Context, inst models.Instrument) error
	Unblacklist(ctx context.Context, inst models.Instrument) error
	Status() models.Status
	RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error)
	Paused() []models.Instrument
	Denylist() []models.Instrument
}

const helpText = `Commands:
/status - scanner state
/refresh - re-list the universe now
/pause SYMBOL - mute alerts for a symbol
/resume SYMBOL - unmute a symbol
/blacklist SYMBOL - stop tracking a symbol
/unblacklist SYMBOL - allow a symbol again
/paused - list muted symbols
/blacklisted - list blacklisted symbols
/history - recent alerts
/ping - liveness check`

// ListenForCommands polls for updates until ctx is cancelled.
// Only the configured chat may issue commands.
func (c *Client) ListenForCommands(ctx context.Context, ctrl Controller) error {
	if c.bot == nil {
		return errors.New("telegram bot not initialised")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	c.log.Info("Listening for Telegram commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			c.handleUpdate(ctx, ctrl, update)
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, ctrl Controller, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, ctrl, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		msg := update.Message
		if !c.authorized(msg.Chat, msg.From) {
			c.log.Warn("Rejected command from chat %d", msg.Chat.ID)
			c.reply(msg.Chat.ID, "Access denied.")
			return
		}
		text := c.execute(ctx, ctrl, msg.Command(), msg.CommandArguments())
		c.reply(msg.Chat.ID, text)
	}
}

func (c *Client) authorized(chat *tgbotapi.Chat, from *tgbotapi.User) bool {
	if chat != nil && chat.ID == c.chatID {
		return true
	}
	return from != nil && from.ID == c.chatID
}

func (c *Client) handleCallback(ctx context.Context, ctrl Controller, cb *tgbotapi.CallbackQuery) {
	var chat *tgbotapi.Chat
	if cb.Message != nil {
		chat = cb.Message.Chat
	}
	if !c.authorized(chat, cb.From) {
		c.answer(cb.ID, "Access denied.")
		return
	}

	action, ok := parseCallback(cb.Data)
	if !ok {
		c.answer(cb.ID, "Unknown action.")
		return
	}

	text := c.execute(ctx, ctrl, string(action.Kind), string(action.Instrument))
	c.answer(cb.ID, text)
	c.reply(c.chatID, text)
}

func (c *Client) answer(callbackID, text string) {
	if _, err := c.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		c.log.Warn("Failed to answer callback: %v", err)
	}
}

func (c *Client) reply(chatID int64, text string) {
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		c.log.Error("Failed to send reply: %v", err)
	}
}

// execute runs one operator command and returns the plain-text reply.
func (c *Client) execute(ctx context.Context, ctrl Controller, command, args string) string {
	switch command {
	case "start", "help":
		return helpText
	case "ping":
		return "pong"
	case "status":
		return formatStatus(ctrl.Status(), time.Now())
	case "refresh":
		n, err := ctrl.RefreshNow(ctx)
		if err != nil {
			return fmt.Sprintf("Refresh failed: %v (tracking %d)", err, n)
		}
		return fmt.Sprintf("Refreshed: tracking %d instruments.", n)
	case "pause", "resume", "blacklist", "unblacklist":
		return c.executeInstrument(ctx, ctrl, command, args)
	case "paused":
		return formatList("Paused", ctrl.Paused())
	case "blacklisted":
		return formatList("Blacklisted", ctrl.Denylist())
	case "history":
		records, err := ctrl.RecentAlerts(ctx, historyLimit)
		if err != nil {
			return fmt.Sprintf("Failed to load history: %v", err)
		}
		return formatHistory(records)
	default:
		return "Unknown command. Send /help for the list."
	}
}

func (c *Client) executeInstrument(ctx context.Context, ctrl Controller, command, args string) string {
	arg := strings.TrimSpace(args)
	if arg == "" {
		return fmt.Sprintf("Usage: /%s SYMBOL", command)
	}
	inst, err := models.ParseInstrument(strings.Fields(arg)[0], c.quoteCoin)
	if err != nil {
		return fmt.Sprintf("Invalid symbol: %v", err)
	}

	var (
		op   func(context.Context, models.Instrument) error
		done string
	)
	switch command {
	case "pause":
		op, done = ctrl.Pause, "Paused alerts for %s."
	case "resume":
		op, done = ctrl.Resume, "Resumed alerts for %s."
	case "blacklist":
		op, done = ctrl.Blacklist, "Blacklisted %s."
	case "unblacklist":
		op, done = ctrl.Unblacklist, "Unblacklisted %s. It returns on the next refresh."
	}

	if err := op(ctx, inst); err != nil {
		c.log.Warn("/%s %s failed: %v", command, inst, err)
		return fmt.Sprintf("Failed: %v", err)
	}
	return fmt.Sprintf(done, inst.Display())
}

func formatStatus(st models.Status, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tracked: %d\n", st.Tracked)
	fmt.Fprintf(&b, "Blacklisted: %d\n", st.Denylisted)
	fmt.Fprintf(&b, "Paused: %d\n", st.Paused)
	fmt.Fprintf(&b, "Alerts in window: %d\n", st.RecentAlerts)
	fmt.Fprintf(&b, "Ticks: %d\n", st.Ticks)
	fmt.Fprintf(&b, "Last tick: %s\n", ago(st.LastTick, now))
	fmt.Fprintf(&b, "Last refresh: %s", ago(st.LastRefresh, now))
	if st.LastRefreshError != "" {
		fmt.Fprintf(&b, "\nLast refresh error: %s", st.LastRefreshError)
	}
	return b.String()
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Truncate(time.Second).String() + " ago"
}

func formatList(title string, insts []models.Instrument) string {
	if len(insts) == 0 {
		return title + ": none"
	}
	names := make([]string, len(insts))
	for i, inst := range insts {
		names[i] = inst.Display()
	}
	return fmt.Sprintf("%s (%d): %s", title, len(insts), strings.Join(names, ", "))
}

func formatHistory(records []models.AlertRecord) string {
	if len(records) == 0 {
		return "No alerts yet."
	}
	var b strings.Builder
	b.WriteString("Recent alerts:")
	for _, r := range records {
		mark := ""
		if !r.Delivered {
			mark = " (undelivered)"
		}
		fmt.Fprintf(&b, "\n%s %s %+.1f%%%s",
			r.CreatedAt.UTC().Format("01-02 15:04"), r.Instrument.Display(), r.VolumeChangePct, mark)
	}
	return b.String()
}
