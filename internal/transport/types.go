// Package transport holds the chat-transport contract shared by the report
// exporter, the log sink and the chat command router.
package transport

import (
	"context"
	"errors"
)

// ErrNotModified is returned by EditText when the new content equals the
// content already shown. Callers treat it as a successful edit.
var ErrNotModified = errors.New("message is not modified")

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers and edits single chat messages.
// Implementations never split text; callers keep it within platform limits.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// Message is an inbound chat message.
type Message struct {
	ID       int
	ChatID   int64
	ThreadID int
	FromID   int64
	Text     string
}

// Receiver delivers inbound messages until Stop or ctx cancellation.
// Start must not block.
type Receiver interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// BotCommand is one entry of the chat client's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by transports that expose a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
