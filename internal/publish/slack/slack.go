// Package slack announces published posts in a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/publish"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is used when Slack does not send a Retry-After.
	baseBackoff = time.Second
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Opts holds parameters for creating the Slack channel.
type Opts struct {
	// NewClient builds a client for a bot token. Defaults to slackapi.New.
	// For testing: return a mock client instead of the real Slack API.
	NewClient func(botToken string) slackClient
}

// Channel implements publish.Channel for Slack.
type Channel struct {
	newClient   func(botToken string) slackClient
	baseBackoff time.Duration
}

// New creates the Slack channel.
func New(opts Opts) *Channel {
	c := &Channel{newClient: opts.NewClient, baseBackoff: baseBackoff}
	if c.newClient == nil {
		c.newClient = func(botToken string) slackClient { return slackapi.New(botToken) }
	}
	return c
}

func (c *Channel) Name() string { return "slack" }

func (c *Channel) Targets(cfg models.PublishConfig, _ string) []publish.Target {
	if cfg.Slack == nil || cfg.Slack.BotToken == "" || cfg.Slack.ChannelID == "" {
		return nil
	}
	return []publish.Target{{Name: cfg.Slack.ChannelID, Config: *cfg.Slack}}
}

// Push posts an announcement attachment for the post.
func (c *Channel) Push(ctx context.Context, content publish.Content, t publish.Target) error {
	cfg, ok := t.Config.(models.ChatTarget)
	if !ok {
		return fmt.Errorf("slack: unexpected target config %T", t.Config)
	}

	client := c.newClient(cfg.BotToken)
	options := buildMessageOptions(publish.Announce(content))

	err := c.retryOnRateLimit(ctx, func() error {
		_, _, postErr := client.PostMessageContext(ctx, cfg.ChannelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// buildMessageOptions translates an Announcement into Slack MsgOptions.
func buildMessageOptions(a publish.Announcement) []slackapi.MsgOption {
	fallback := fmt.Sprintf("New post: %s %s", a.Title, a.URL)
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(fallback, false),
		slackapi.MsgOptionAttachments(announcementToAttachment(a)),
		slackapi.MsgOptionDisableLinkUnfurl(),
	}
}

// announcementToAttachment converts an Announcement to a Slack Attachment.
func announcementToAttachment(a publish.Announcement) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:     a.Title,
		TitleLink: a.URL,
		Text:      a.Body,
		Color:     a.Color,
		Fallback:  a.Title,
		ThumbURL:  a.ImageURL,
	}
	for _, f := range a.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func (c *Channel) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
