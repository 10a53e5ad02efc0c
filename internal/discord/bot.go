package discord

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chris/scout/internal/conversation"
	"github.com/chris/scout/internal/session"
)

// Runner answers one user message within a conversation.
type Runner interface {
	Run(ctx context.Context, conv *conversation.State, userMessage string) (string, error)
}

type Bot struct {
	session     *discordgo.Session
	runner      Runner
	sessions    *session.Manager
	threadID    string
	turnTimeout time.Duration
}

// NewBot connects to Discord. Every DM and mention feeds the one
// conversation named by threadID.
func NewBot(token string, runner Runner, sessions *session.Manager, threadID string, turnTimeout time.Duration) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating Discord session: %w", err)
	}

	bot := &Bot{session: s, runner: runner, sessions: sessions, threadID: threadID, turnTimeout: turnTimeout}
	s.AddHandler(bot.onMessage)
	s.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("opening Discord connection: %w", err)
	}

	log.Printf("Discord bot connected as %s", s.State.User.Username)
	return bot, nil
}

func (b *Bot) Close() {
	b.session.Close()
}
