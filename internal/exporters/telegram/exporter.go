// Package telegram delivers reports to Telegram chats as a "live" message:
// each export edits the messages sent last time instead of posting new ones.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agentmon/internal/monitor"
	kit "agentmon/internal/transport"
	logx "agentmon/pkg/logx"
)

const (
	Name = "telegram"

	DefaultCallTimeout = 15 * time.Second
	DefaultRatePerSec  = 1.0
)

type Config struct {
	ChatIDs  []int64
	ThreadID int

	Title      string
	TimeLayout string
	// Location renders the header timestamp; UTC when nil.
	Location *time.Location

	MaxMessageLen int
	RatePerSec    float64
	CallTimeout   time.Duration
}

// StateStore persists the per-chat message ids across restarts.
type StateStore interface {
	LoadMessageIDs(ctx context.Context, destination string) ([]int, error)
	SaveMessageIDs(ctx context.Context, destination string, ids []int) error
}

type Exporter struct {
	cfg     Config
	sender  kit.Sender
	store   StateStore
	log     logx.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	state  map[int64][]int
	loaded map[int64]bool
}

// New builds the exporter. store may be nil, in which case message ids live
// in memory only.
func New(cfg Config, sender kit.Sender, store StateStore, log logx.Logger) *Exporter {
	if cfg.MaxMessageLen <= 0 || cfg.MaxMessageLen > MaxMessageLen {
		cfg.MaxMessageLen = MaxMessageLen
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Exporter{
		cfg:     cfg,
		sender:  sender,
		store:   store,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		state:   map[int64][]int{},
		loaded:  map[int64]bool{},
	}
}

func (e *Exporter) Name() string { return Name }

func (e *Exporter) Configured() bool { return e.sender != nil && len(e.cfg.ChatIDs) > 0 }

// MessageIDs returns the ids of the messages currently showing the report in chatID.
func (e *Exporter) MessageIDs(chatID int64) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.state[chatID]...)
}

// Render converts a report into the chunks sent to every chat.
func (e *Exporter) Render(report monitor.Report) []string {
	at := report.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}
	header := Header(e.cfg.Title, at.In(e.cfg.Location), e.cfg.TimeLayout)
	return SplitMessages(header, ToHTML(report.Text), e.cfg.MaxMessageLen)
}

// Export delivers the report to every chat concurrently. Failures in one
// chat do not affect the others; all of them are returned joined.
func (e *Exporter) Export(ctx context.Context, report monitor.Report) error {
	chunks := e.Render(report)
	errs := make([]error, len(e.cfg.ChatIDs))
	var wg sync.WaitGroup
	for i, chatID := range e.cfg.ChatIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.deliver(ctx, chatID, chunks)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// deliver edits the chat's known messages in place and sends new ones for
// positions without a usable id. It stops at the first chunk that can be
// neither edited nor sent. The delivered prefix becomes the chat's new
// state; when nothing was delivered the previous state is kept.
func (e *Exporter) deliver(ctx context.Context, chatID int64, chunks []string) error {
	log := e.log.With(logx.Int64("chat_id", chatID))
	prev := e.knownIDs(ctx, chatID)

	ids := make([]int, 0, len(chunks))
	var failure error
	for i, chunk := range chunks {
		if i < len(prev) && prev[i] > 0 {
			err := e.edit(ctx, chatID, prev[i], chunk)
			if err == nil || errors.Is(err, kit.ErrNotModified) {
				ids = append(ids, prev[i])
				continue
			}
			log.Warn("edit failed, sending new message", logx.Int("position", i), logx.Int("message_id", prev[i]), logx.Err(err))
		}
		id, err := e.send(ctx, chatID, chunk)
		if err != nil {
			failure = fmt.Errorf("chat %d: chunk %d/%d: %w", chatID, i+1, len(chunks), err)
			break
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return failure
	}
	e.remember(ctx, chatID, ids)
	if len(prev) > len(ids) && failure == nil {
		log.Debug("report shrank, older trailing messages left as is", logx.Int("stale", len(prev)-len(ids)))
	}
	return failure
}

func (e *Exporter) edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	ref := kit.MessageRef{ChatID: chatID, ThreadID: e.cfg.ThreadID, MessageID: messageID}
	return e.sender.EditText(cctx, ref, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

func (e *Exporter) send(ctx context.Context, chatID int64, text string) (int, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	ref, err := e.sender.SendText(cctx, kit.ChatTarget{ChatID: chatID, ThreadID: e.cfg.ThreadID}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		return 0, err
	}
	return ref.MessageID, nil
}

// knownIDs returns the chat's message ids, reading the store the first time.
func (e *Exporter) knownIDs(ctx context.Context, chatID int64) []int {
	e.mu.Lock()
	if e.loaded[chatID] || e.store == nil {
		ids := append([]int(nil), e.state[chatID]...)
		e.mu.Unlock()
		return ids
	}
	e.mu.Unlock()

	ids, err := e.store.LoadMessageIDs(ctx, destinationKey(chatID))
	if err != nil {
		e.log.Warn("message state load failed, starting fresh", logx.Int64("chat_id", chatID), logx.Err(err))
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded[chatID] {
		e.state[chatID] = ids
		e.loaded[chatID] = true
	}
	return append([]int(nil), e.state[chatID]...)
}

func (e *Exporter) remember(ctx context.Context, chatID int64, ids []int) {
	e.mu.Lock()
	e.state[chatID] = ids
	e.loaded[chatID] = true
	e.mu.Unlock()

	if e.store == nil {
		return
	}
	if err := e.store.SaveMessageIDs(ctx, destinationKey(chatID), ids); err != nil {
		e.log.Warn("message state save failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func destinationKey(chatID int64) string {
	return Name + ":" + strconv.FormatInt(chatID, 10)
}
