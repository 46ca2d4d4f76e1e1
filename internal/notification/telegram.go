package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	internalerrors "github.com/olegiv/dmesg-ai-go/internal/errors"
	"golang.org/x/time/rate"
)

const (
	maxMessageLength = 4096
	// minMessageInterval is the minimum time between messages to the same
	// channel to stay under Telegram rate limits.
	minMessageInterval = 1 * time.Second
)

// TelegramClient mirrors reports to a Telegram channel as plain text
type TelegramClient struct {
	bot           *tgbotapi.BotAPI
	channelID     int64
	subjectPrefix string
	limiter       *rate.Limiter
}

// NewTelegramClient creates a new Telegram client
func NewTelegramClient(botToken string, channelID int64, subjectPrefix string) (*TelegramClient, error) {
	return NewTelegramClientWithEndpoint(botToken, channelID, subjectPrefix, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
}

// NewTelegramClientWithEndpoint creates a client against a custom Bot API endpoint
// (format "https://host/bot%s/%s").
func NewTelegramClientWithEndpoint(botToken string, channelID int64, subjectPrefix, endpoint string, httpClient *http.Client) (*TelegramClient, error) {
	if channelID == 0 {
		return nil, fmt.Errorf("telegram channel ID is required")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, httpClient)
	if err != nil {
		return nil, internalerrors.Wrapf(err, "failed to create Telegram bot")
	}

	return &TelegramClient{
		bot:           bot,
		channelID:     channelID,
		subjectPrefix: subjectPrefix,
		limiter:       rate.NewLimiter(rate.Every(minMessageInterval), 1),
	}, nil
}

// Notify sends the report as one or more plain text messages. Each chunk is
// sent once; the first failure stops delivery.
func (t *TelegramClient) Notify(ctx context.Context, n *Notification) error {
	text := n.Title(t.subjectPrefix) + "\n\n" + HTMLToText(n.HTML)

	for _, chunk := range splitMessage(text) {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		if _, err := t.bot.Send(tgbotapi.NewMessage(t.channelID, chunk)); err != nil {
			return internalerrors.Wrapf(err, "failed to send Telegram message")
		}
	}

	return nil
}

// Name returns the channel name
func (t *TelegramClient) Name() string {
	return "telegram"
}

// GetBotInfo returns information about the bot
func (t *TelegramClient) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"username":   t.bot.Self.UserName,
		"channel_id": t.channelID,
	}
}

// splitMessage splits a long message at line boundaries into chunks that fit
// Telegram's limit. Over-long lines are cut on rune boundaries.
func splitMessage(message string) []string {
	if len(message) <= maxMessageLength {
		return []string{message}
	}

	var messages []string
	var current strings.Builder

	for _, line := range strings.Split(message, "\n") {
		if current.Len()+len(line)+1 > maxMessageLength {
			if current.Len() > 0 {
				messages = append(messages, current.String())
				current.Reset()
			}

			// The remainder must leave room for its newline.
			split := false
			for len(line) >= maxMessageLength {
				cut := maxMessageLength
				for cut < len(line) && cut > 0 && !utf8.RuneStart(line[cut]) {
					cut--
				}
				if cut == 0 {
					cut = maxMessageLength
				}
				messages = append(messages, line[:cut])
				line = line[cut:]
				split = true
			}
			if split && line == "" {
				continue
			}
		}

		current.WriteString(line)
		current.WriteString("\n")
	}

	if current.Len() > 0 {
		messages = append(messages, current.String())
	}

	return messages
}

var _ Notifier = (*TelegramClient)(nil)
