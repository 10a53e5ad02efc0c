package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/chris/scout/internal/conversation"
	"github.com/chris/scout/internal/db"
	"github.com/chris/scout/internal/llm"
)

type ManagerSuite struct {
	suite.Suite
	db  *db.DB
	mgr *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	d, err := db.Open(":memory:")
	s.Require().NoError(err)
	s.db = d
	s.mgr = NewManager(d, 0)
}

func (s *ManagerSuite) TearDownTest() {
	s.db.Close()
}

func (s *ManagerSuite) searchExchange(id string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleUser, Content: "look up " + id},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: id, Name: "search", Params: map[string]any{"query": id}}}},
		{Role: llm.RoleTool, ToolCallID: id, Content: `[{"url":"https://example.com","content":"` + strings.Repeat("x", 400) + `"}]`},
		{Role: llm.RoleAssistant, Content: "found " + id},
	}
}

func (s *ManagerSuite) TestNewThreadStartsEmpty() {
	err := s.mgr.Do(context.Background(), "fresh", func(conv *conversation.State) error {
		s.Equal("fresh", conv.ThreadID())
		s.Zero(conv.Len())
		return nil
	})
	s.NoError(err)
}

func (s *ManagerSuite) TestAppendedMessagesArePersisted() {
	ctx := context.Background()
	want := s.searchExchange("c1")

	s.Require().NoError(s.mgr.Do(ctx, "1", func(conv *conversation.State) error {
		return conv.Append(want...)
	}))

	s.Require().NoError(s.mgr.Do(ctx, "1", func(conv *conversation.State) error {
		s.Equal(want, conv.Messages())
		return nil
	}))

	entries, err := s.mgr.History("1")
	s.Require().NoError(err)
	s.Require().Len(entries, 4)
	s.Equal("c1", entries[1].Message.ToolCalls[0].ID)
	s.Equal("c1", entries[1].Message.ToolCalls[0].Params["query"])
	s.WithinDuration(time.Now(), entries[0].CreatedAt, time.Minute)
}

func (s *ManagerSuite) TestRejectedAppendIsNotPersisted() {
	ctx := context.Background()
	err := s.mgr.Do(ctx, "1", func(conv *conversation.State) error {
		return conv.Append(
			llm.Message{Role: llm.RoleUser, Content: "hi"},
			llm.Message{Role: llm.RoleTool, ToolCallID: "ghost", Content: "{}"},
		)
	})
	s.ErrorIs(err, conversation.ErrOrphanToolResult)

	entries, err := s.mgr.History("1")
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *ManagerSuite) TestErrorFromCallbackIsReturned() {
	boom := errors.New("boom")
	s.ErrorIs(s.mgr.Do(context.Background(), "1", func(*conversation.State) error { return boom }), boom)
}

func (s *ManagerSuite) TestHistoryIsTrimmedButStorageIsNot() {
	ctx := context.Background()
	var all []llm.Message
	for _, id := range []string{"a", "b", "c", "d"} {
		all = append(all, s.searchExchange(id)...)
	}
	s.Require().NoError(s.mgr.Do(ctx, "1", func(conv *conversation.State) error {
		return conv.Append(all...)
	}))

	budget := llm.EstimateMessagesTokens(all) / 2
	trimming := NewManager(s.db, budget)
	s.Require().NoError(trimming.Do(ctx, "1", func(conv *conversation.State) error {
		msgs := conv.Messages()
		s.Less(len(msgs), len(all))
		s.LessOrEqual(llm.EstimateMessagesTokens(msgs), budget)
		s.Equal(all[len(all)-1], msgs[len(msgs)-1])
		s.NoError(conversation.Validate(msgs))
		return nil
	}))

	entries, err := s.mgr.History("1")
	s.Require().NoError(err)
	s.Len(entries, len(all))
}

func (s *ManagerSuite) TestCorruptToolCallsFailLoad() {
	s.Require().NoError(s.db.AppendMessages("1", []db.Message{
		{Role: llm.RoleAssistant, ToolCalls: "{not json"},
	}))
	err := s.mgr.Do(context.Background(), "1", func(*conversation.State) error {
		s.Fail("callback should not run")
		return nil
	})
	s.Error(err)
}

func (s *ManagerSuite) TestSameThreadRunsSerially() {
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.mgr.Do(context.Background(), "1", func(*conversation.State) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	s.EqualValues(1, peak)

	s.mgr.mu.Lock()
	s.Empty(s.mgr.locks)
	s.mgr.mu.Unlock()
}

func (s *ManagerSuite) TestLockWaitHonorsContext() {
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.mgr.Do(context.Background(), "1", func(*conversation.State) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.mgr.Do(ctx, "1", func(*conversation.State) error { return nil })
	s.ErrorIs(err, context.DeadlineExceeded)

	// other threads are not blocked
	s.NoError(s.mgr.Do(context.Background(), "2", func(*conversation.State) error { return nil }))

	close(release)
	s.NoError(<-done)
}

func (s *ManagerSuite) TestThreadAndDelete() {
	ctx := context.Background()
	_, err := s.mgr.Thread("1")
	s.ErrorIs(err, db.ErrThreadNotFound)

	s.Require().NoError(s.mgr.Do(ctx, "1", func(conv *conversation.State) error {
		return conv.Append(llm.Message{Role: llm.RoleUser, Content: "hi"})
	}))
	th, err := s.mgr.Thread("1")
	s.Require().NoError(err)
	s.Equal(1, th.MessageCount)

	s.Require().NoError(s.mgr.Delete(ctx, "1"))
	_, err = s.mgr.Thread("1")
	s.ErrorIs(err, db.ErrThreadNotFound)
	s.ErrorIs(s.mgr.Delete(ctx, "1"), db.ErrThreadNotFound)
}

func (s *ManagerSuite) TestPruneIdle() {
	s.Require().NoError(s.mgr.Do(context.Background(), "1", func(conv *conversation.State) error {
		return conv.Append(llm.Message{Role: llm.RoleUser, Content: "hi"})
	}))

	ids, err := s.mgr.PruneIdle(time.Hour)
	s.Require().NoError(err)
	s.Empty(ids)

	ids, err = s.mgr.PruneIdle(-time.Hour)
	s.Require().NoError(err)
	s.Equal([]string{"1"}, ids)
}

func (s *ManagerSuite) TestPruneIdleSkipsBusyThread() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.Do(ctx, "1", func(conv *conversation.State) error {
		return conv.Append(llm.Message{Role: llm.RoleUser, Content: "hi"})
	}))

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.mgr.Do(ctx, "1", func(*conversation.State) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ids, err := s.mgr.PruneIdle(-time.Hour)
	s.Require().NoError(err)
	s.Empty(ids)
	_, err = s.mgr.Thread("1")
	s.NoError(err)

	close(release)
	s.Require().NoError(<-done)

	ids, err = s.mgr.PruneIdle(-time.Hour)
	s.Require().NoError(err)
	s.Equal([]string{"1"}, ids)
}

func (s *ManagerSuite) TestHistoryLeavesRoomForFixedCost() {
	ctx := context.Background()
	var all []llm.Message
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		all = append(all, s.searchExchange(id)...)
	}
	s.Require().NoError(s.mgr.Do(ctx, "1", func(conv *conversation.State) error {
		return conv.Append(all...)
	}))

	tools := []llm.Tool{{Name: "search", Description: strings.Repeat("d", 400), Parameters: map[string]any{"type": "object"}}}
	prompt := strings.Repeat("p", 800)
	fixed := llm.EstimateTokens(prompt) + llm.EstimateToolsTokens(tools)
	// The whole history fits the raw limit but not once the fixed cost is paid.
	maxTokens := llm.EstimateMessagesTokens(all) + fixed - 1

	trimming := NewManager(s.db, llm.MessageBudget(maxTokens, prompt, tools))
	s.Require().NoError(trimming.Do(ctx, "1", func(conv *conversation.State) error {
		msgs := conv.Messages()
		s.Less(len(msgs), len(all))
		s.LessOrEqual(llm.EstimateMessagesTokens(msgs)+fixed, maxTokens)
		s.Equal(llm.RoleUser, msgs[0].Role)
		return nil
	}))
}
