// Package discord announces published posts in a Discord channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/publish"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff after a 429.
	baseBackoff = time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Opts holds parameters for creating the Discord channel.
type Opts struct {
	// NewSession builds a REST session for a bot token. Defaults to
	// discordgo.New. For testing: return a mock session.
	NewSession func(botToken string) (session, error)
}

// Channel implements publish.Channel for Discord.
type Channel struct {
	newSession  func(botToken string) (session, error)
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// New creates the Discord channel.
func New(opts Opts) *Channel {
	c := &Channel{
		newSession:  opts.NewSession,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if c.newSession == nil {
		c.newSession = func(botToken string) (session, error) {
			return discordgo.New("Bot " + botToken)
		}
	}
	return c
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) Targets(cfg models.PublishConfig, _ string) []publish.Target {
	if cfg.Discord == nil || cfg.Discord.BotToken == "" || cfg.Discord.ChannelID == "" {
		return nil
	}
	return []publish.Target{{Name: cfg.Discord.ChannelID, Config: *cfg.Discord}}
}

// Push sends an embed announcing the post.
func (c *Channel) Push(ctx context.Context, content publish.Content, t publish.Target) error {
	cfg, ok := t.Config.(models.ChatTarget)
	if !ok {
		return fmt.Errorf("discord: unexpected target config %T", t.Config)
	}

	sess, err := c.newSession(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}

	data := buildMessageSend(publish.Announce(content))
	err = c.retryOnRateLimit(ctx, func() error {
		_, sendErr := sess.ChannelMessageSendComplex(cfg.ChannelID, data, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// buildMessageSend translates an Announcement into a Discord MessageSend.
func buildMessageSend(a publish.Announcement) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content: "New post published",
		Embeds:  []*discordgo.MessageEmbed{announcementToEmbed(a)},
	}
}

// announcementToEmbed converts an Announcement to a Discord Embed.
func announcementToEmbed(a publish.Announcement) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		URL:         a.URL,
		Description: a.Body,
	}
	if a.Color != "" {
		embed.Color = parseHexColor(a.Color)
	}
	if a.ImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: a.ImageURL}
	}
	for _, f := range a.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (c *Channel) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
