package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store keeps an ordered list of message ids per destination key.
type Store interface {
	// LoadMessageIDs returns nil without error for an unknown destination.
	LoadMessageIDs(ctx context.Context, destination string) ([]int, error)
	SaveMessageIDs(ctx context.Context, destination string, ids []int) error
	Close() error
}

// MessageState is one destination's persisted state.
type MessageState struct {
	IDs       []int     `json:"ids"`
	UpdatedAt time.Time `json:"updated_at"`
}
