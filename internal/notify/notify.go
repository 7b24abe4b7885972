package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/analytics"
	"mr-assistant/internal/storage"
)

// maxMessageRunes is the Telegram limit for one text message.
const maxMessageRunes = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type botAPISender struct{ api *tgbotapi.BotAPI }

func (s botAPISender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

// Telegram delivers experimenter notifications to one chat.
type Telegram struct {
	s      sender
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Infof("digest bot authorized as %s", api.Self.UserName)
	return &Telegram{s: botAPISender{api: api}, chatID: chatID}, nil
}

// Send posts text, split into as many messages as the length limit needs.
func (t *Telegram) Send(text string) error {
	for _, part := range splitMessage(text, maxMessageRunes) {
		if _, err := t.s.Send(tgbotapi.NewMessage(t.chatID, part)); err != nil {
			return fmt.Errorf("send to %d: %w", t.chatID, err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// Poster is anything that can publish a text message.
type Poster interface {
	Send(text string) error
}

// Digest summarizes the day's turns across all users and posts them.
type Digest struct {
	store  storage.Store
	poster Poster
	now    func() time.Time
}

func NewDigest(store storage.Store, poster Poster) *Digest {
	return &Digest{store: store, poster: poster, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (d *Digest) WithClock(now func() time.Time) *Digest {
	d.now = now
	return d
}

// Build computes today's statistics without sending them.
func (d *Digest) Build(ctx context.Context) (*analytics.DailyStats, error) {
	docs, err := storage.LoadAll(ctx, d.store)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	return analytics.AnalyzeDay(docs, d.now()), nil
}

func (d *Digest) Run(ctx context.Context) error {
	stats, err := d.Build(ctx)
	if err != nil {
		return err
	}
	if err := d.poster.Send(stats.GenerateReportSummary()); err != nil {
		return err
	}
	log.Infof("daily digest for %s sent (%d turns, %d users)", stats.Date, stats.TotalTurns, stats.UniqueUsers)
	return nil
}
