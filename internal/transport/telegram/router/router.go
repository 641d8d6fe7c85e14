// Package router dispatches chat commands ("/report", "/run" ...) received
// from a transport to registered handlers on a bounded worker pool.
package router

import (
	"context"
	"errors"
	"html"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "agentmon/internal/runtime/supervisor"
	kit "agentmon/internal/transport"
	logx "agentmon/pkg/logx"
)

// ErrQueueFull means every worker is busy and the job queue is full.
var ErrQueueFull = errors.New("command queue full")

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly requires the sender to be a configured owner. With no
	// owners configured, any member of an allowed chat qualifies.
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	sender kit.Sender
}

// Reply sends an HTML message to the chat (and topic) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Config struct {
	// AllowedChats lists the chats whose messages are dispatched. Messages
	// from any other chat are ignored unless the sender is an owner.
	AllowedChats []int64
	Owners       []int64
	Workers      int
	QueueSize    int
	// Timeout bounds a handler that sets no Timeout of its own.
	Timeout time.Duration
}

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
	defaultTimeout   = 30 * time.Second
)

type Router struct {
	log    logx.Logger
	sender kit.Sender

	mu      sync.RWMutex
	cmds    map[string]*Command
	order   []*Command
	allowed map[int64]struct{}
	owners  []int64

	workers int
	timeout time.Duration
	jobs    chan func()
	seq     atomic.Uint64

	supMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	r := &Router{
		log:     log,
		sender:  sender,
		cmds:    map[string]*Command{},
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		jobs:    make(chan func(), cfg.QueueSize),
	}
	r.SetAccess(cfg.AllowedChats, cfg.Owners)
	r.SetCommands(nil)
	return r
}

// SetAccess replaces the chat allow-list and owner list. Safe during dispatch.
func (r *Router) SetAccess(allowedChats, owners []int64) {
	allowed := make(map[int64]struct{}, len(allowedChats))
	for _, id := range allowedChats {
		allowed[id] = struct{}{}
	}
	r.mu.Lock()
	r.allowed = allowed
	r.owners = append([]int64(nil), owners...)
	r.mu.Unlock()
}

// SetCommands replaces the registry. A "help" command is always added.
// Names and aliases are matched case-insensitively; later entries do not
// override earlier ones.
func (r *Router) SetCommands(cmds []Command) {
	help := Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "list commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	}
	all := append(slices.Clone(cmds), help)

	byName := map[string]*Command{}
	order := make([]*Command, 0, len(all))
	for i := range all {
		c := &all[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := byName[name]; dup {
			continue
		}
		c.Name = name
		byName[name] = c
		order = append(order, c)
	}
	for _, c := range order {
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
	}

	r.mu.Lock()
	r.cmds = byName
	r.order = order
	r.mu.Unlock()
}

// Menu returns the registered commands in the chat client's menu format.
func (r *Router) Menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, c := range r.order {
		desc := strings.TrimSpace(strings.ReplaceAll(c.Description, "\n", " "))
		if desc == "" {
			desc = c.Name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	return out
}

// Supervisor returns the worker pool supervisor (nil when DispatchLoop is not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.supMu.Lock()
	defer r.supMu.Unlock()
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor) {
	r.supMu.Lock()
	r.sup = sup
	r.supMu.Unlock()
}

// DispatchLoop consumes messages until ctx is done or in is closed. Each
// accepted command runs on one of the pool workers.
func (r *Router) DispatchLoop(ctx context.Context, in <-chan kit.Message) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			req, h := r.route(ctx, msg)
			if h == nil {
				continue
			}
			if err := r.enqueue(func() { _ = h(sup.Context(), req) }); err != nil {
				_ = req.Reply(ctx, "busy, try again shortly")
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) enqueue(fn func()) error {
	select {
	case r.jobs <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Handle dispatches one message synchronously on the caller's goroutine.
// Non-commands and messages from unknown chats are ignored.
func (r *Router) Handle(ctx context.Context, msg kit.Message) error {
	req, h := r.route(ctx, msg)
	if h == nil {
		return nil
	}
	return h(ctx, req)
}

// route resolves msg to a request and its wrapped handler. A nil handler
// means the message needs no further work (ignored or already answered).
func (r *Router) route(ctx context.Context, msg kit.Message) (*Request, HandlerFunc) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return nil, nil
	}

	r.mu.RLock()
	_, chatAllowed := r.allowed[msg.ChatID]
	owner := slices.Contains(r.owners, msg.FromID)
	noOwners := len(r.owners) == 0
	cmd := r.cmds[name]
	r.mu.RUnlock()

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !chatAllowed && !owner {
		r.log.Debug("command from unknown chat ignored", logx.Int64("chat_id", msg.ChatID), logx.Int64("from_id", msg.FromID), logx.String("cmd", name))
		return nil, nil
	}

	req := &Request{
		Msg:     msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: name,
		Args:    args,
		ReqID:   strconv.FormatUint(r.seq.Add(1), 36),
		sender:  r.sender,
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", name),
	)

	if cmd == nil {
		_ = req.Reply(ctx, "unknown command. try /help")
		return nil, nil
	}
	if cmd.Access == AccessOwnerOnly && !owner && !noOwners {
		_ = req.Reply(ctx, "unauthorized")
		return nil, nil
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	return req, Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
}

// parseCommand splits "/name@bot arg1 arg2" into a normalized name and args.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = sanitizeCommand(word)
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}

func (r *Router) helpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := []string{"<b>Commands</b>"}
	for _, c := range r.order {
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if c.Access == AccessOwnerOnly {
			line += " 🔒"
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
