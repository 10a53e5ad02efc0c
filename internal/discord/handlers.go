package discord

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/chris/scout/internal/agent"
	"github.com/chris/scout/internal/conversation"
	"github.com/chris/scout/internal/db"
)

const (
	maxMessageLen = 2000
	resetCommand  = "!reset"
)

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore own messages
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	// Only respond to DMs or when mentioned
	isDM := m.GuildID == ""
	isMentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			isMentioned = true
			break
		}
	}
	if !isDM && !isMentioned {
		return
	}

	content := strings.TrimSpace(stripMention(m.Content, s.State.User.ID))
	if content == "" {
		return
	}

	// Show typing indicator
	s.ChannelTyping(m.ChannelID)

	for _, chunk := range splitMessage(b.reply(context.Background(), content), maxMessageLen) {
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			log.Printf("discord: sending to %s: %v", m.ChannelID, err)
		}
	}
}

// reply runs one turn on the bot's thread and returns the text to post.
func (b *Bot) reply(ctx context.Context, content string) string {
	if b.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.turnTimeout)
		defer cancel()
	}

	if strings.EqualFold(content, resetCommand) {
		err := b.sessions.Delete(ctx, b.threadID)
		if err != nil && !errors.Is(err, db.ErrThreadNotFound) {
			log.Printf("discord: resetting thread %s: %v", b.threadID, err)
			return "Couldn't reset this conversation. Try again?"
		}
		return "Started a fresh conversation."
	}

	var answer string
	err := b.sessions.Do(ctx, b.threadID, func(conv *conversation.State) error {
		var err error
		answer, err = b.runner.Run(ctx, conv, content)
		return err
	})
	if err != nil {
		log.Printf("discord: turn on thread %s failed (%s): %v", b.threadID, agent.Kind(err), err)
		return agent.UserMessage(err)
	}
	return answer
}

func stripMention(s, userID string) string {
	s = strings.ReplaceAll(s, "<@"+userID+">", "")
	s = strings.ReplaceAll(s, "<@!"+userID+">", "")
	return s
}

func splitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		end := maxLen
		if end > len(s) {
			end = len(s)
		}
		// Try to split at a newline, else at a rune boundary
		if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
			end = idx + 1
		} else {
			for end > 1 && end < len(s) && !utf8.RuneStart(s[end]) {
				end--
			}
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
