package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmon/internal/monitor"
	kit "agentmon/internal/transport"
	logx "agentmon/pkg/logx"
)

type sentMsg struct {
	chatID int64
	id     int
	text   string
}

// fakeSender records calls and lets tests inject failures per chat.
type fakeSender struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMsg
	edits   []sentMsg
	editErr func(ref kit.MessageRef) error
	sendErr func(chatID int64, n int) error
	sends   map[int64]int
}

func newFakeSender() *fakeSender { return &fakeSender{nextID: 100, sends: map[int64]int{}} }

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends[to.ChatID]++
	if f.sendErr != nil {
		if err := f.sendErr(to.ChatID, f.sends[to.ChatID]); err != nil {
			return kit.MessageRef{}, err
		}
	}
	if opt == nil || opt.ParseMode != "HTML" {
		return kit.MessageRef{}, errors.New("parse mode must be HTML")
	}
	f.nextID++
	f.sent = append(f.sent, sentMsg{chatID: to.ChatID, id: f.nextID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeSender) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		if err := f.editErr(ref); err != nil {
			return err
		}
	}
	f.edits = append(f.edits, sentMsg{chatID: ref.ChatID, id: ref.MessageID, text: text})
	return nil
}

func (f *fakeSender) counts() (sent, edited int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), len(f.edits)
}

type memStore struct {
	mu    sync.Mutex
	ids   map[string][]int
	saves int
}

func (m *memStore) LoadMessageIDs(_ context.Context, dest string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.ids[dest]...), nil
}

func (m *memStore) SaveMessageIDs(_ context.Context, dest string, ids []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[dest] = append([]int(nil), ids...)
	m.saves++
	return nil
}

func fastConfig(chats ...int64) Config {
	return Config{ChatIDs: chats, RatePerSec: 10000, CallTimeout: time.Second}
}

func report(text string) monitor.Report {
	return monitor.Report{Text: text, GeneratedAt: time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)}
}

func TestExportFirstSendThenEdit(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	e := New(fastConfig(1), s, nil, logx.Nop())

	require.NoError(t, e.Export(context.Background(), report("**ok**")))
	require.Equal(t, []int{101}, e.MessageIDs(1))
	assert.Equal(t, testHeader+"<b>ok</b>", s.sent[0].text)

	require.NoError(t, e.Export(context.Background(), report("still ok")))
	sent, edited := s.counts()
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, edited)
	assert.Equal(t, 101, s.edits[0].id)
	assert.Equal(t, []int{101}, e.MessageIDs(1))
}

func TestExportNotModifiedCountsAsSuccess(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	e := New(fastConfig(1), s, nil, logx.Nop())
	require.NoError(t, e.Export(context.Background(), report("same")))

	s.editErr = func(kit.MessageRef) error { return fmt.Errorf("edit: %w", kit.ErrNotModified) }
	require.NoError(t, e.Export(context.Background(), report("same")))

	sent, _ := s.counts()
	assert.Equal(t, 1, sent, "no new message after a not-modified edit")
	assert.Equal(t, []int{101}, e.MessageIDs(1))
}

func TestExportEditFailureFallsBackToSend(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	e := New(fastConfig(1), s, nil, logx.Nop())
	require.NoError(t, e.Export(context.Background(), report("v1")))

	s.editErr = func(kit.MessageRef) error { return errors.New("message to edit not found") }
	require.NoError(t, e.Export(context.Background(), report("v2")))

	assert.Equal(t, []int{102}, e.MessageIDs(1))
	assert.Equal(t, testHeader+"v2", s.sent[1].text)
}

func TestExportGrowingReportSendsExtraChunks(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	e := New(fastConfig(1), s, nil, logx.Nop())
	require.NoError(t, e.Export(context.Background(), report("short")))

	require.NoError(t, e.Export(context.Background(), report(strings.Repeat("x", 10000))))
	ids := e.MessageIDs(1)
	require.Len(t, ids, 3)
	assert.Equal(t, 101, ids[0], "position 0 is edited in place")
	sent, edited := s.counts()
	assert.Equal(t, 3, sent)
	assert.Equal(t, 1, edited)
}

func TestExportShrinkingReportKeepsTrailingMessages(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	e := New(fastConfig(1), s, nil, logx.Nop())
	require.NoError(t, e.Export(context.Background(), report(strings.Repeat("x", 10000))))
	require.Len(t, e.MessageIDs(1), 3)

	require.NoError(t, e.Export(context.Background(), report("short")))
	assert.Equal(t, []int{101}, e.MessageIDs(1))
	_, edited := s.counts()
	assert.Equal(t, 1, edited)
}

func TestExportDestinationsIsolated(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	s.sendErr = func(chatID int64, _ int) error {
		if chatID == 2 {
			return errors.New("chat not found")
		}
		return nil
	}
	e := New(fastConfig(1, 2), s, nil, logx.Nop())

	err := e.Export(context.Background(), report("hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 2")
	assert.Equal(t, []int{101}, e.MessageIDs(1))
	assert.Empty(t, e.MessageIDs(2))
}

func TestExportTotalFailureKeepsPreviousState(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	e := New(fastConfig(1), s, nil, logx.Nop())
	require.NoError(t, e.Export(context.Background(), report("v1")))

	s.editErr = func(kit.MessageRef) error { return errors.New("bad gateway") }
	s.sendErr = func(int64, int) error { return errors.New("bad gateway") }
	require.Error(t, e.Export(context.Background(), report("v2")))
	assert.Equal(t, []int{101}, e.MessageIDs(1))
}

func TestExportPartialFailurePersistsDeliveredPrefix(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	s.sendErr = func(_ int64, n int) error {
		if n == 2 {
			return errors.New("too many requests")
		}
		return nil
	}
	e := New(fastConfig(1), s, nil, logx.Nop())

	err := e.Export(context.Background(), report(strings.Repeat("x", 10000)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Equal(t, []int{101}, e.MessageIDs(1))
}

func TestExportPersistsAndRestoresState(t *testing.T) {
	t.Parallel()
	store := &memStore{ids: map[string][]int{"telegram:7": {55}}}
	s := newFakeSender()
	e := New(fastConfig(7), s, store, logx.Nop())

	require.NoError(t, e.Export(context.Background(), report("restored")))
	require.Len(t, s.edits, 1)
	assert.Equal(t, 55, s.edits[0].id, "message id from the store is edited")

	require.NoError(t, e.Export(context.Background(), report(strings.Repeat("y", 6000))))
	assert.Equal(t, []int{55, 101}, store.ids["telegram:7"])
	assert.Equal(t, 2, store.saves)
}

func TestConfiguredNeedsSenderAndChats(t *testing.T) {
	t.Parallel()
	assert.False(t, New(Config{}, newFakeSender(), nil, logx.Nop()).Configured())
	assert.False(t, New(fastConfig(1), nil, nil, logx.Nop()).Configured())
	assert.True(t, New(fastConfig(1), newFakeSender(), nil, logx.Nop()).Configured())
}
