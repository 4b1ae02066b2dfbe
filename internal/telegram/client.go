// Package telegram delivers alerts and serves operator commands via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/spikewatch/internal/logger"
	"github.com/rewired-gh/spikewatch/internal/models"
)

// sender is the subset of *tgbotapi.BotAPI used for outbound calls.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Client handles Telegram notifications and commands.
type Client struct {
	bot            *tgbotapi.BotAPI
	api            sender
	chatID         int64
	quoteCoin      string
	maxRetries     int
	retryDelayBase time.Duration
	log            *logger.Logger
}

// NewClient creates a new Telegram client. quoteCoin is used to complete bare instrument names in commands.
func NewClient(botToken, chatID, quoteCoin string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, quoteCoin, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(api sender, chatID int64, quoteCoin string, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		api:            api,
		chatID:         chatID,
		quoteCoin:      quoteCoin,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		log:            logger.With("telegram"),
	}
}

// send delivers msg with linear-backoff retry. It gives up early if ctx is cancelled.
func (c *Client) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send cancelled: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) markdown(text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	return msg
}

// SendAlert renders a spike alert with pause and blacklist buttons.
func (c *Client) SendAlert(ctx context.Context, alert models.Alert) error {
	msg := c.markdown(formatAlert(alert))
	if kb, ok := alertKeyboard(alert.Actions); ok {
		msg.ReplyMarkup = kb
	}
	return c.send(ctx, msg)
}

// SendNotice sends a plain-text operator notice.
func (c *Client) SendNotice(ctx context.Context, text string) error {
	return c.send(ctx, c.markdown("ℹ️ "+escapeMarkdownV2(text)))
}

// SendError sends a scanner error notification.
// Call this only once per consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Scanner error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.send(ctx, c.markdown(text))
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Scanner recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.send(ctx, c.markdown(text))
}
