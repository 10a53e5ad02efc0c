package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrThreadNotFound = errors.New("thread not found")

type Thread struct {
	ID           string `json:"id"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Message is a stored history entry. ToolCalls holds the JSON-encoded tool
// calls of an assistant message, or "" when there are none.
type Message struct {
	Seq        int64  `json:"seq"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCalls  string `json:"tool_calls,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// AppendMessages stores msgs at the end of the thread in one transaction,
// creating the thread if needed.
func (d *DB) AppendMessages(threadID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	if _, err := tx.Exec(
		"INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at",
		threadID, now, now,
	); err != nil {
		return fmt.Errorf("touching thread %s: %w", threadID, err)
	}

	var seq int64
	if err := tx.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?", threadID).Scan(&seq); err != nil {
		return fmt.Errorf("reading last seq: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT INTO messages (thread_id, seq, role, content, tool_calls, tool_call_id, is_error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		seq++
		isErr := 0
		if m.IsError {
			isErr = 1
		}
		if _, err := stmt.Exec(threadID, seq, m.Role, m.Content, nullStr(m.ToolCalls), nullStr(m.ToolCallID), isErr, now); err != nil {
			return fmt.Errorf("inserting message %d: %w", seq, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns the thread's history, oldest first. An unknown
// thread has no messages.
func (d *DB) ListMessages(threadID string) ([]Message, error) {
	rows, err := d.conn.Query(
		"SELECT seq, role, content, COALESCE(tool_calls, ''), COALESCE(tool_call_id, ''), is_error, created_at FROM messages WHERE thread_id = ? ORDER BY seq ASC",
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var isErr int
		if err := rows.Scan(&m.Seq, &m.Role, &m.Content, &m.ToolCalls, &m.ToolCallID, &isErr, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.IsError = isErr == 1
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetThread returns one thread with its message count.
func (d *DB) GetThread(id string) (*Thread, error) {
	var t Thread
	err := d.conn.QueryRow(
		"SELECT t.id, (SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id), t.created_at, t.updated_at FROM threads t WHERE t.id = ?",
		id,
	).Scan(&t.ID, &t.MessageCount, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", id, err)
	}
	return &t, nil
}

// DeleteThread removes a thread and its messages.
func (d *DB) DeleteThread(id string) error {
	res, err := d.conn.Exec("DELETE FROM threads WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting thread %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, id)
	}
	return nil
}

// IdleThreads returns the IDs of threads not updated since cutoff.
func (d *DB) IdleThreads(cutoff time.Time) ([]string, error) {
	rows, err := d.conn.Query("SELECT id FROM threads WHERE updated_at < ? ORDER BY id", formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("finding idle threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteIdleThread removes the thread only if it is still idle at cutoff.
// It reports whether a row was deleted.
func (d *DB) DeleteIdleThread(id string, cutoff time.Time) (bool, error) {
	res, err := d.conn.Exec("DELETE FROM threads WHERE id = ? AND updated_at < ?", id, formatTime(cutoff))
	if err != nil {
		return false, fmt.Errorf("deleting thread %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
