package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ligun0805/mempool-searcher/internal/jsonl"
)

// LogOutput writes events to the process log.
type LogOutput struct {
	lggr *zap.SugaredLogger
}

func NewLogOutput(lggr *zap.SugaredLogger) *LogOutput {
	return &LogOutput{lggr: lggr.Named("Alert")}
}

func (l *LogOutput) Name() string { return "log" }

func (l *LogOutput) Write(_ context.Context, ev Event) error {
	kv := []any{"kind", ev.Kind}
	add := func(k, v string) {
		if v != "" {
			kv = append(kv, k, v)
		}
	}
	add("network", ev.Network)
	add("origin", ev.Origin)
	add("tx", ev.TxHash)
	add("path", ev.Path)
	add("value", ev.Value)
	add("profit", ev.Profit)
	add("reason", ev.Reason)
	if ev.Nonce != nil {
		kv = append(kv, "nonce", *ev.Nonce)
	}
	l.lggr.Logw(ev.Level, ev.Message, kv...)
	return nil
}

// FileOutput appends events to a JSONL file.
type FileOutput struct {
	f *jsonl.File
}

func NewFileOutput(path string) *FileOutput {
	return &FileOutput{f: jsonl.Open(path)}
}

func (o *FileOutput) Name() string { return "file:" + o.f.Path() }

func (o *FileOutput) Write(_ context.Context, ev Event) error {
	return o.f.Append(ev)
}

func (o *FileOutput) Close() error { return o.f.Close() }

// WebhookOutput posts a Telegram sendMessage compatible body: {"chat_id", "text"}.
// It only receives events at Info level and above unless SetMinLevel lowers it.
type WebhookOutput struct {
	url      string
	chatID   string
	http     *http.Client
	minLevel zapcore.Level
}

func NewWebhookOutput(url, chatID string, timeout time.Duration) *WebhookOutput {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookOutput{url: url, chatID: chatID, http: &http.Client{Timeout: timeout}, minLevel: zapcore.InfoLevel}
}

func (w *WebhookOutput) Name() string { return "webhook" }

func (w *WebhookOutput) MinLevel() zapcore.Level { return w.minLevel }

// SetMinLevel must be called before the output is handed to a Dispatcher.
func (w *WebhookOutput) SetMinLevel(l zapcore.Level) { w.minLevel = l }

type webhookBody struct {
	ChatID string `json:"chat_id,omitempty"`
	Text   string `json:"text"`
}

func (w *WebhookOutput) Write(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookBody{ChatID: w.chatID, Text: FormatText(ev)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook http %d", resp.StatusCode)
	}
	return nil
}

// FormatText renders an event as a short human-readable message.
func FormatText(ev Event) string {
	var b strings.Builder
	if ev.Network != "" {
		fmt.Fprintf(&b, "[%s] ", ev.Network)
	}
	b.WriteString(ev.Message)
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "\n%s: %s", k, v)
		}
	}
	line("origin", ev.Origin)
	line("tx", ev.TxHash)
	line("value", ev.Value)
	line("profit", ev.Profit)
	line("reason", ev.Reason)
	return b.String()
}
