package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "agentmon/pkg/logx"
)

// fileStore keeps every destination in memory and rewrites one JSON file
// (<path>) on each save via a temp file and rename.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	state  map[string]MessageState
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	state := map[string]MessageState{}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(b) > 0 {
			if err := json.Unmarshal(b, &state); err != nil {
				// A corrupt snapshot only costs us in-place edits; start over.
				log.Warn("storage snapshot unreadable, starting empty", logx.String("path", path), logx.Err(err))
				state = map[string]MessageState{}
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	return &fileStore{log: log, path: path, state: state}, nil
}

func (s *fileStore) LoadMessageIDs(_ context.Context, destination string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	st, ok := s.state[destination]
	if !ok {
		return nil, nil
	}
	return append([]int(nil), st.IDs...), nil
}

func (s *fileStore) SaveMessageIDs(_ context.Context, destination string, ids []int) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return errors.New("destination is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.state[destination] = MessageState{IDs: append([]int(nil), ids...), UpdatedAt: time.Now().UTC()}
	return s.flushLocked()
}

func (s *fileStore) flushLocked() error {
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
