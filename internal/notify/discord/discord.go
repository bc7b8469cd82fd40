// Package discord delivers notifications to a Discord channel.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Sink sends messages to a fixed Discord channel over the REST API. The
// session never opens a gateway connection; sending alone does not need one.
type Sink struct {
	session   *discordgo.Session
	channelID string
}

// New creates a Discord sink from a bot token and target channel id.
func New(token, channelID string) (*Sink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	return &Sink{session: session, channelID: channelID}, nil
}

func (s *Sink) Name() string { return "discord" }

func (s *Sink) Send(_ context.Context, _, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if len(content) > 2000 {
		content = content[:1997] + "..."
	}
	if _, err := s.session.ChannelMessageSend(s.channelID, content); err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}
	return nil
}
