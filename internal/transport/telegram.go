package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/unclebandit/communitybot-admin/internal/config"
)

// Telegram sends through the Bot API sendMessage method with HTML parse mode.
type Telegram struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewTelegram(cfg config.TelegramConfig, log zerolog.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}

	// Offline skips getMe; this process never polls for updates.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log.With().Str("component", "telegram").Logger(),
	}, nil
}

func (t *Telegram) Send(ctx context.Context, userID int64, text string) (Ack, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Ack{}, err
	}

	// telebot has no context support; the http client timeout bounds the
	// goroutine if ctx gives up first.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: userID}, text, &tele.SendOptions{ParseMode: tele.ModeHTML})
		done <- err
	}()

	var err error
	select {
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	case err = <-done:
	}
	if err == nil {
		return Ack{OK: true}, nil
	}

	if desc, ok := rejection(err); ok {
		t.log.Debug().Int64("chat_id", userID).Str("description", desc).Msg("telegram rejected message")
		return Ack{OK: false, Description: desc}, nil
	}
	return Ack{}, err
}

// unknownAPIError matches the plain error telebot builds for descriptions it
// has no sentinel for.
var unknownAPIError = regexp.MustCompile(`^telegram: (.+) \((\d+)\)$`)

// rejection extracts the Bot API description from an error answer. Network
// and encoding failures are not rejections.
func rejection(err error) (string, bool) {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Description, true
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return fmt.Sprintf("Too Many Requests: retry after %d", flood.RetryAfter), true
	}
	if m := unknownAPIError.FindStringSubmatch(err.Error()); m != nil {
		return m[1], true
	}
	return "", false
}

var _ Transport = (*Telegram)(nil)
