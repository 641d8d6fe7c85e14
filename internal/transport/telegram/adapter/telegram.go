package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "agentmon/internal/transport"
	logx "agentmon/pkg/logx"
)

// Config configures the Telegram Bot API client.
type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (self-hosted bot API server, tests).
	APIURL  string
	Timeout time.Duration
	// PollTimeout is the getUpdates long-poll window. Only used by Start.
	PollTimeout time.Duration
}

const DefaultPollTimeout = 10 * time.Second

// Adapter sends and edits single messages through the Telegram Bot API and,
// once started, long-polls for inbound messages.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runDone   chan struct{}

	// dropped counts updates discarded because the consumer was slower than the poll loop.
	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	// getUpdates holds the request open for PollTimeout.
	timeout = max(timeout, cfg.PollTimeout+5*time.Second)
	// Offline skips the getMe handshake, so construction never touches the network.
	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	sendOpt := teleOptions(opt)
	sendOpt.ThreadID = to.ThreadID

	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("sendMessage chat=%d: %w", to.ChatID, err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// EditText replaces the text of an existing message.
// A "message is not modified" reply is reported as kit.ErrNotModified.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, text, teleOptions(opt)); err != nil {
		if IsNotModified(err) {
			return fmt.Errorf("editMessageText chat=%d id=%d: %w", ref.ChatID, ref.MessageID, kit.ErrNotModified)
		}
		return fmt.Errorf("editMessageText chat=%d id=%d: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}

// IsNotModified reports whether a Bot API error says the edit was a no-op.
func IsNotModified(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, kit.ErrNotModified) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

func teleOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Start begins long-polling getUpdates and forwards text messages to out.
// Updates are dropped (and counted) when out is full. Calling Start on a
// running adapter is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCancel != nil {
		return nil
	}
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		a.poll(rctx, out)
	}(a.runDone)
	return nil
}

// Stop ends polling and waits for the in-flight getUpdates call, bounded by
// ctx and a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel, done := a.runCancel, a.runDone
	a.runCancel, a.runDone = nil, nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	grace := time.NewTimer(2 * time.Second)
	defer grace.Stop()
	select {
	case <-done:
		a.log.Info("polling stopped", logx.Uint64("dropped_updates", a.dropped.Load()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
		a.log.Warn("polling stop grace elapsed; continuing shutdown")
		return nil
	}
}

type updatesResponse struct {
	Result []tele.Update `json:"result"`
}

func (a *Adapter) poll(ctx context.Context, out chan<- kit.Message) {
	a.log.Info("polling started", logx.Duration("poll_timeout", a.cfg.PollTimeout))
	var offset int
	backoff := time.Duration(0)
	for {
		if ctx.Err() != nil {
			return
		}
		if backoff > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}

		raw, err := a.bot.Raw("getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         int(a.cfg.PollTimeout / time.Second),
			"allowed_updates": []string{"message"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff = min(max(2*backoff, 500*time.Millisecond), 30*time.Second)
			a.log.Warn("getUpdates failed", logx.Err(err), logx.Duration("retry_in", backoff))
			continue
		}
		backoff = 0

		var resp updatesResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			a.log.Warn("getUpdates: decode failed", logx.Err(err))
			continue
		}
		for _, u := range resp.Result {
			offset = max(offset, u.ID+1)
			msg, ok := toMessage(u)
			if !ok {
				continue
			}
			select {
			case out <- msg:
			default:
				if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}
}

func toMessage(u tele.Update) (kit.Message, bool) {
	m := u.Message
	if m == nil || m.Chat == nil || strings.TrimSpace(m.Text) == "" {
		return kit.Message{}, false
	}
	msg := kit.Message{ID: m.ID, ChatID: m.Chat.ID, ThreadID: m.ThreadID, Text: m.Text}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
	}
	return msg, true
}

// UpdateMenuCommands replaces the bot's command menu (setMyCommands).
// It only calls the API when the list differs from the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	h := fnv.New64a()
	tc := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		tc = append(tc, tele.Command{Text: c.Command, Description: c.Description})
		_, _ = h.Write([]byte(c.Command + "\x00" + c.Description + "\x00"))
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(tc); err != nil {
		return fmt.Errorf("setMyCommands: %w", err)
	}
	a.menuHash = sum
	return nil
}
