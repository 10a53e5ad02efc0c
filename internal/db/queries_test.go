package db

import (
	"errors"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func setUpdatedAt(t *testing.T, d *DB, id string, at time.Time) {
	t.Helper()
	if _, err := d.conn.Exec("UPDATE threads SET updated_at = ? WHERE id = ?", formatTime(at), id); err != nil {
		t.Fatalf("setting updated_at: %v", err)
	}
}

// --- Messages ---

func TestAppendAndListMessages(t *testing.T) {
	d := openTestDB(t)

	err := d.AppendMessages("1", []Message{
		{Role: "user", Content: "capital of France?"},
		{Role: "assistant", ToolCalls: `[{"id":"c1","name":"search","params":{"query":"capital of France"}}]`},
		{Role: "tool", Content: `[]`, ToolCallID: "c1", IsError: true},
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := d.AppendMessages("1", []Message{{Role: "assistant", Content: "Paris."}}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	msgs, err := d.ListMessages("1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Errorf("message %d: expected seq %d, got %d", i, i+1, m.Seq)
		}
	}
	if msgs[1].ToolCalls == "" || msgs[1].Content != "" {
		t.Errorf("unexpected assistant row: %+v", msgs[1])
	}
	if msgs[2].ToolCallID != "c1" || !msgs[2].IsError {
		t.Errorf("unexpected tool row: %+v", msgs[2])
	}
	if msgs[0].ToolCalls != "" || msgs[0].ToolCallID != "" {
		t.Errorf("expected empty tool fields on user row, got %+v", msgs[0])
	}
	if msgs[3].Content != "Paris." {
		t.Errorf("expected final answer last, got %q", msgs[3].Content)
	}
}

func TestAppendMessages_Empty(t *testing.T) {
	d := openTestDB(t)
	if err := d.AppendMessages("1", nil); err != nil {
		t.Fatalf("AppendMessages(nil): %v", err)
	}
	if _, err := d.GetThread("1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected no thread to be created, got %v", err)
	}
}

func TestAppendMessages_RollsBackOnBadRow(t *testing.T) {
	d := openTestDB(t)
	err := d.AppendMessages("1", []Message{
		{Role: "user", Content: "hi"},
		{Role: "system", Content: "not allowed"},
	})
	if err == nil {
		t.Fatal("expected error for invalid role")
	}
	msgs, _ := d.ListMessages("1")
	if len(msgs) != 0 {
		t.Errorf("expected rollback, got %d messages", len(msgs))
	}
}

func TestListMessages_UnknownThread(t *testing.T) {
	d := openTestDB(t)
	msgs, err := d.ListMessages("nope")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestMessagesAreIsolatedPerThread(t *testing.T) {
	d := openTestDB(t)
	d.AppendMessages("a", []Message{{Role: "user", Content: "in a"}})
	d.AppendMessages("b", []Message{{Role: "user", Content: "in b"}})

	msgs, _ := d.ListMessages("a")
	if len(msgs) != 1 || msgs[0].Content != "in a" {
		t.Errorf("unexpected messages for a: %+v", msgs)
	}
	if msgs[0].Seq != 1 {
		t.Errorf("expected seq to start at 1 per thread, got %d", msgs[0].Seq)
	}
}

// --- Threads ---

func TestGetThread(t *testing.T) {
	d := openTestDB(t)
	d.AppendMessages("1", []Message{{Role: "user", Content: "x"}, {Role: "assistant", Content: "y"}})

	th, err := d.GetThread("1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if th.MessageCount != 2 {
		t.Errorf("expected 2 messages, got %d", th.MessageCount)
	}
	if _, err := ParseTime(th.CreatedAt); err != nil {
		t.Errorf("created_at %q not parseable: %v", th.CreatedAt, err)
	}
	if _, err := ParseTime(th.UpdatedAt); err != nil {
		t.Errorf("updated_at %q not parseable: %v", th.UpdatedAt, err)
	}
}

func TestGetThread_NotFound(t *testing.T) {
	d := openTestDB(t)
	_, err := d.GetThread("missing")
	if !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestDeleteThread_Cascades(t *testing.T) {
	d := openTestDB(t)
	d.AppendMessages("1", []Message{{Role: "user", Content: "x"}})

	if err := d.DeleteThread("1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	msgs, _ := d.ListMessages("1")
	if len(msgs) != 0 {
		t.Errorf("expected messages to be deleted, got %d", len(msgs))
	}
	if err := d.DeleteThread("1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound on second delete, got %v", err)
	}
}

func TestIdleThreads(t *testing.T) {
	d := openTestDB(t)
	d.AppendMessages("stale", []Message{{Role: "user", Content: "x"}})
	d.AppendMessages("fresh", []Message{{Role: "user", Content: "y"}})
	setUpdatedAt(t, d, "stale", time.Now().Add(-48*time.Hour))

	ids, err := d.IdleThreads(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("IdleThreads: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stale" {
		t.Errorf("expected [stale], got %v", ids)
	}
}

func TestDeleteIdleThread(t *testing.T) {
	d := openTestDB(t)
	d.AppendMessages("stale", []Message{{Role: "user", Content: "x"}})
	d.AppendMessages("fresh", []Message{{Role: "user", Content: "y"}})
	setUpdatedAt(t, d, "stale", time.Now().Add(-48*time.Hour))
	cutoff := time.Now().Add(-24 * time.Hour)

	deleted, err := d.DeleteIdleThread("fresh", cutoff)
	if err != nil {
		t.Fatalf("DeleteIdleThread(fresh): %v", err)
	}
	if deleted {
		t.Error("a thread active since cutoff must not be deleted")
	}

	deleted, err = d.DeleteIdleThread("stale", cutoff)
	if err != nil {
		t.Fatalf("DeleteIdleThread(stale): %v", err)
	}
	if !deleted {
		t.Error("expected stale thread to be deleted")
	}
	if _, err := d.GetThread("stale"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected stale to be gone, got %v", err)
	}
	msgs, _ := d.ListMessages("stale")
	if len(msgs) != 0 {
		t.Errorf("expected messages to cascade, got %d", len(msgs))
	}
	if _, err := d.GetThread("fresh"); err != nil {
		t.Errorf("expected fresh to remain, got %v", err)
	}
}

// --- Helpers ---

func TestNullStr(t *testing.T) {
	if nullStr("") != nil || nullStr("null") != nil {
		t.Error("expected nil for empty and null")
	}
	if nullStr("x") != "x" {
		t.Error("expected value passthrough")
	}
}
