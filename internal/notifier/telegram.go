package notifier

import (
	"context"
	"fmt"
	"time"

	"scanbot/internal/eventbus"
	kit "scanbot/internal/transport"
	logx "scanbot/pkg/logx"
)

type TelegramConfig struct {
	ChatID         int64
	ThreadID       int
	DisablePreview bool
	// Location renders report timestamps; nil means Local.
	Location *time.Location
}

// Telegram sends reports to one chat (optionally a forum topic).
type Telegram struct {
	sender kit.Sender
	cfg    TelegramConfig
	log    logx.Logger
	bus    eventbus.Bus
}

func NewTelegram(sender kit.Sender, cfg TelegramConfig, log logx.Logger, bus eventbus.Bus) (*Telegram, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: telegram sender is nil", ErrNotConfigured)
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("%w: telegram chat id is required", ErrNotConfigured)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{sender: sender, cfg: cfg, log: log, bus: bus}, nil
}

func (t *Telegram) Notify(ctx context.Context, r Report) error {
	text := FormatHTML(r, t.cfg.Location)
	to := kit.ChatTarget{ChatID: t.cfg.ChatID, ThreadID: t.cfg.ThreadID}
	ref, err := t.sender.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: t.cfg.DisablePreview})

	ev := NotificationEvent{Channel: "telegram", RunID: r.RunID, Entries: len(r.Entries), At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
		t.publish(eventbus.TypeNotifyFail, ev)
		return fmt.Errorf("telegram notify: %w", err)
	}
	t.publish(eventbus.TypeNotifySent, ev)
	t.log.Info("report sent", logx.String("run_id", r.RunID), logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Int("entries", len(r.Entries)))
	return nil
}

func (t *Telegram) publish(typ string, ev NotificationEvent) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
