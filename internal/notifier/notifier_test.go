package notifier

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scanbot/internal/eventbus"
	kit "scanbot/internal/transport"
	logx "scanbot/pkg/logx"
)

type fakeSender struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.to, f.text, f.opt = to, text, opt
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 9}, nil
}

func sampleReport() Report {
	return Report{
		RunID:      "run-1",
		Source:     "fallback",
		At:         time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		Candidates: 4,
		Succeeded:  3,
		Failed:     1,
		Entries: []Entry{
			{Rank: 1, Symbol: "2330", Name: "TSMC", Score: 81.34, Confidence: 0.9, Signal: "buy"},
			{Rank: 2, Symbol: "AT&T", Name: "<Telecom>", Score: 60, Confidence: 0.5},
		},
	}
}

func TestFormatHTMLEscapes(t *testing.T) {
	t.Parallel()
	out := FormatHTML(sampleReport(), time.UTC)
	for _, want := range []string{
		"<b>2330</b> TSMC",
		"score <code>81.3</code>",
		"confidence <code>90%</code>",
		"AT&amp;T",
		"&lt;Telecom&gt;",
		"analyzed 3/4 (1 failed)",
		"2026-10-19 09:00 UTC",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<Telecom>") {
		t.Fatal("unescaped name in output")
	}
}

func TestTelegramNotify(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	fs := &fakeSender{}
	n, err := NewTelegram(fs, TelegramConfig{ChatID: -1001, ThreadID: 3, Location: time.UTC}, logx.Nop(), bus)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if fs.to.ChatID != -1001 || fs.to.ThreadID != 3 || fs.opt.ParseMode != "HTML" {
		t.Fatalf("sent to %+v opt %+v", fs.to, fs.opt)
	}
	if ev := <-events; ev.Type != eventbus.TypeNotifySent {
		t.Fatalf("event = %+v", ev)
	}

	fs.err = errors.New("chat not found")
	err = n.Notify(context.Background(), sampleReport())
	if err == nil || !errors.Is(err, fs.err) {
		t.Fatalf("err = %v, want wrapped sender error", err)
	}
	ev := <-events
	data, _ := ev.Data.(NotificationEvent)
	if ev.Type != eventbus.TypeNotifyFail || data.Error == "" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestNewTelegramRequiresChat(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegram(&fakeSender{}, TelegramConfig{}, logx.Nop(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewTelegram(nil, TelegramConfig{ChatID: 1}, logx.Nop(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	n := NewLog(logx.NewWriter(&buf, "info"))
	if err := n.Notify(context.Background(), sampleReport()); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(buf.String(), `"report.entry"`); got != 2 {
		t.Fatalf("entries logged = %d\n%s", got, buf.String())
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Notify(ctx, sampleReport()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
