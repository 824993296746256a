package publish

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zulandar/presswork/internal/models"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of the body>".
	SignatureHeader = "X-Presswork-Signature"
	// TimestampHeader carries the unix send time.
	TimestampHeader = "X-Presswork-Timestamp"
	// EventHeader carries the event name.
	EventHeader = "X-Presswork-Event"

	EventPostPublished = "post.published"
)

// Webhook posts a signed JSON payload to a customer URL.
type Webhook struct {
	opts HTTPOpts
	now  func() time.Time
}

// NewWebhook returns the webhook channel.
func NewWebhook(opts HTTPOpts) *Webhook {
	return &Webhook{opts: opts, now: time.Now}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Targets(cfg models.PublishConfig, _ string) []Target {
	if cfg.Webhook == nil || cfg.Webhook.URL == "" {
		return nil
	}
	return []Target{{Name: cfg.Webhook.URL, Config: *cfg.Webhook}}
}

type webhookPayload struct {
	Event       string      `json:"event"`
	TriggeredBy string      `json:"triggeredBy"`
	SentAt      time.Time   `json:"sentAt"`
	Post        webhookPost `json:"post"`
}

type webhookPost struct {
	ID               string    `json:"id"`
	WebsiteID        string    `json:"websiteId"`
	URL              string    `json:"url"`
	Title            string    `json:"title"`
	Slug             string    `json:"slug"`
	Excerpt          string    `json:"excerpt"`
	MetaDescription  string    `json:"metaDescription"`
	Markdown         string    `json:"markdown"`
	HTML             string    `json:"html"`
	Tags             []string  `json:"tags"`
	FeaturedImageURL string    `json:"featuredImageUrl,omitempty"`
	PublishedAt      time.Time `json:"publishedAt"`
}

func (w *Webhook) Push(ctx context.Context, c Content, t Target) error {
	cfg, ok := t.Config.(models.WebhookTarget)
	if !ok {
		return fmt.Errorf("webhook: unexpected target config %T", t.Config)
	}

	sentAt := w.now().UTC()
	body, err := json.Marshal(webhookPayload{
		Event:       EventPostPublished,
		TriggeredBy: c.TriggeredBy,
		SentAt:      sentAt,
		Post: webhookPost{
			ID:               c.PostID,
			WebsiteID:        c.WebsiteID,
			URL:              c.URL,
			Title:            c.Title,
			Slug:             c.Slug,
			Excerpt:          c.Excerpt,
			MetaDescription:  c.MetaDescription,
			Markdown:         c.Markdown,
			HTML:             c.HTML,
			Tags:             c.Tags,
			FeaturedImageURL: c.FeaturedImageURL,
			PublishedAt:      c.PublishedAt,
		},
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	header := http.Header{}
	header.Set(EventHeader, EventPostPublished)
	header.Set(TimestampHeader, strconv.FormatInt(sentAt.Unix(), 10))
	if cfg.Secret != "" {
		header.Set(SignatureHeader, "sha256="+Sign(cfg.Secret, body))
	}

	if err := postRaw(ctx, w.opts, cfg.URL, body, header); err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a SignatureHeader value against body in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
