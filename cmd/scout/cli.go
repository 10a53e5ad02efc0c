package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chris/scout/internal/agent"
	"github.com/chris/scout/internal/conversation"
	"github.com/chris/scout/internal/db"
	"github.com/chris/scout/internal/llm"
	"github.com/chris/scout/internal/session"
)

const prompt = "scout> "

type runner interface {
	Run(ctx context.Context, conv *conversation.State, userMessage string) (string, error)
}

type cli struct {
	runner      runner
	sessions    *session.Manager
	threadID    string
	turnTimeout time.Duration

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// repl reads one message per line until EOF, exit or quit.
func (c *cli) repl(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	fmt.Fprintf(c.out, "thread %s. Commands: /history /reset exit\n", c.threadID)
	fmt.Fprint(c.out, prompt)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
		case input == "exit" || input == "quit":
			return
		case input == "/history":
			c.printHistory()
		case input == "/reset":
			c.reset(ctx)
		default:
			c.exchange(ctx, input)
		}
		fmt.Fprint(c.out, prompt)
	}
}

// once sends everything on stdin as a single message.
func (c *cli) once(ctx context.Context) error {
	b, err := io.ReadAll(c.in)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return nil
	}
	return c.exchange(ctx, input)
}

func (c *cli) exchange(ctx context.Context, input string) error {
	reply, err := c.turn(ctx, input)
	if err != nil {
		fmt.Fprintf(c.errOut, "error (%s): %s\n", agent.Kind(err), agent.UserMessage(err))
		return err
	}
	fmt.Fprintln(c.out, reply)
	return nil
}

func (c *cli) turn(ctx context.Context, input string) (string, error) {
	if c.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.turnTimeout)
		defer cancel()
	}
	var reply string
	err := c.sessions.Do(ctx, c.threadID, func(conv *conversation.State) error {
		var err error
		reply, err = c.runner.Run(ctx, conv, input)
		return err
	})
	return reply, err
}

func (c *cli) printHistory() {
	entries, err := c.sessions.History(c.threadID)
	if err != nil {
		fmt.Fprintf(c.errOut, "error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "(no messages yet)")
		return
	}
	if th, err := c.sessions.Thread(c.threadID); err == nil {
		active := th.UpdatedAt
		if at, err := db.ParseTime(th.UpdatedAt); err == nil {
			active = humanize.Time(at)
		}
		fmt.Fprintf(c.out, "thread %s: %s messages, last active %s\n", th.ID, humanize.Comma(int64(th.MessageCount)), active)
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%-10s %-9s %s\n", humanize.Time(e.CreatedAt), e.Message.Role, describe(e.Message))
	}
}

func (c *cli) reset(ctx context.Context) {
	err := c.sessions.Delete(ctx, c.threadID)
	if err != nil && !errors.Is(err, db.ErrThreadNotFound) {
		fmt.Fprintf(c.errOut, "error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "history cleared")
}

func describe(m llm.Message) string {
	switch {
	case len(m.ToolCalls) > 0:
		calls := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			q, _ := tc.Params["query"].(string)
			calls[i] = fmt.Sprintf("%s(%q)", tc.Name, q)
		}
		return "-> " + strings.Join(calls, ", ")
	case m.Role == llm.RoleTool && m.IsError:
		return "[error] " + clip(m.Content, 120)
	case m.Role == llm.RoleTool:
		return clip(m.Content, 120)
	default:
		return m.Content
	}
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
