// Package session loads thread histories from the database, hands them to
// callers as conversation states, and persists what the callers append.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chris/scout/internal/conversation"
	"github.com/chris/scout/internal/db"
	"github.com/chris/scout/internal/llm"
)

// Entry is a stored message with the time it was recorded.
type Entry struct {
	Message   llm.Message
	CreatedAt time.Time
}

type Manager struct {
	db     *db.DB
	budget int

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

// NewManager returns a Manager backed by d. Histories handed to callers are
// trimmed to about budget tokens of messages, see llm.MessageBudget. Zero
// disables trimming.
func NewManager(d *db.DB, budget int) *Manager {
	return &Manager{
		db:     d,
		budget: budget,
		locks:  make(map[string]*threadLock),
	}
}

// Do runs fn with the thread's conversation. Calls for the same thread run
// one at a time; messages fn appends are written to the database as they
// are accepted.
func (m *Manager) Do(ctx context.Context, threadID string, fn func(*conversation.State) error) error {
	unlock, err := m.lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	rows, err := m.db.ListMessages(threadID)
	if err != nil {
		return err
	}
	history, err := fromRows(rows)
	if err != nil {
		return fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	if m.budget > 0 {
		trimmed := llm.TrimMessages(history, m.budget)
		if len(trimmed) < len(history) {
			log.Printf("session: thread %s trimmed %d -> %d messages", threadID, len(history), len(trimmed))
		}
		history = trimmed
	}

	conv, err := conversation.New(threadID, history)
	if err != nil {
		return fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	return fn(conv.WithSink(m.persist))
}

func (m *Manager) persist(threadID string, msgs []llm.Message) error {
	rows := make([]db.Message, len(msgs))
	for i, msg := range msgs {
		row, err := toRow(msg)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	return m.db.AppendMessages(threadID, rows)
}

// History returns the full stored history of a thread, oldest first.
func (m *Manager) History(threadID string) ([]Entry, error) {
	rows, err := m.db.ListMessages(threadID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		msg, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		at, _ := db.ParseTime(r.CreatedAt) // zero time if unparseable
		out = append(out, Entry{Message: msg, CreatedAt: at})
	}
	return out, nil
}

// Thread returns the thread's summary, or an error wrapping
// db.ErrThreadNotFound if nothing has been stored for it yet.
func (m *Manager) Thread(threadID string) (*db.Thread, error) {
	return m.db.GetThread(threadID)
}

// Delete removes a thread, waiting for any turn in progress on it.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	unlock, err := m.lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()
	return m.db.DeleteThread(threadID)
}

// PruneIdle deletes threads with no activity for maxIdle and returns their
// IDs. Threads with a turn in progress are skipped.
func (m *Manager) PruneIdle(maxIdle time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-maxIdle)
	ids, err := m.db.IdleThreads(cutoff)
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, id := range ids {
		unlock, ok := m.tryLock(id)
		if !ok {
			continue
		}
		deleted, err := m.db.DeleteIdleThread(id, cutoff)
		unlock()
		if err != nil {
			return pruned, err
		}
		if deleted {
			pruned = append(pruned, id)
		}
	}
	return pruned, nil
}

// tryLock takes the thread's lock only if nobody holds it.
func (m *Manager) tryLock(threadID string) (func(), bool) {
	l, release := m.acquireRef(threadID)
	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			release()
		}, true
	default:
		release()
		return nil, false
	}
}

func (m *Manager) lock(ctx context.Context, threadID string) (func(), error) {
	l, release := m.acquireRef(threadID)
	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, fmt.Errorf("waiting for thread %s: %w", threadID, ctx.Err())
	}
}

// acquireRef returns the thread's lock, creating it if needed, and a func
// that drops the reference so unused locks leave the map.
func (m *Manager) acquireRef(threadID string) (*threadLock, func()) {
	m.mu.Lock()
	l, ok := m.locks[threadID]
	if !ok {
		l = &threadLock{ch: make(chan struct{}, 1)}
		m.locks[threadID] = l
	}
	l.refs++
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, threadID)
		}
		m.mu.Unlock()
	}
	return l, release
}

func toRow(msg llm.Message) (db.Message, error) {
	row := db.Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		IsError:    msg.IsError,
	}
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return db.Message{}, fmt.Errorf("encoding tool calls: %w", err)
		}
		row.ToolCalls = string(b)
	}
	return row, nil
}

func fromRow(r db.Message) (llm.Message, error) {
	msg := llm.Message{
		Role:       r.Role,
		Content:    r.Content,
		ToolCallID: r.ToolCallID,
		IsError:    r.IsError,
	}
	if r.ToolCalls != "" {
		if err := json.Unmarshal([]byte(r.ToolCalls), &msg.ToolCalls); err != nil {
			return llm.Message{}, fmt.Errorf("decoding tool calls of message %d: %w", r.Seq, err)
		}
	}
	return msg, nil
}

func fromRows(rows []db.Message) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}
