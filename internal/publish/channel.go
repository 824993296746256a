package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/presswork/internal/models"
)

// Channel is one external destination for published posts. Targets returns the
// configured targets for a website, already filtered by trigger; Push delivers
// one post to one target.
type Channel interface {
	Name() string
	Targets(cfg models.PublishConfig, trigger string) []Target
	Push(ctx context.Context, c Content, t Target) error
}

// Target is a single configured destination of a channel. Config holds the
// channel's own target type from models.PublishConfig.
type Target struct {
	Name   string
	Config interface{}
}

// Content is the channel-neutral view of a published post.
type Content struct {
	PostID           string
	WebsiteID        string
	WebsiteName      string
	Domain           string
	URL              string
	Title            string
	Slug             string
	Excerpt          string
	MetaDescription  string
	Markdown         string
	HTML             string
	Tags             []string
	FeaturedImageURL string
	PublishedAt      time.Time
	TriggeredBy      string
}

// NewContent builds Content from a post and its website.
func NewContent(post *models.BlogPost, site *models.Website, trigger string) Content {
	c := Content{
		PostID:           post.ID,
		WebsiteID:        site.ID,
		WebsiteName:      site.Name,
		Domain:           site.Domain,
		URL:              PostURL(site, post.Slug),
		Title:            post.Title,
		Slug:             post.Slug,
		Excerpt:          post.Excerpt,
		MetaDescription:  post.MetaDescription,
		Markdown:         post.Markdown,
		HTML:             post.HTML,
		FeaturedImageURL: post.FeaturedImageURL,
		TriggeredBy:      trigger,
	}
	for _, tag := range strings.Split(post.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			c.Tags = append(c.Tags, tag)
		}
	}
	if post.PublishedAt != nil {
		c.PublishedAt = post.PublishedAt.UTC()
	}
	return c
}

// PostURL returns the public URL of a post on a website. BaseURL wins over
// Domain when both are set.
func PostURL(site *models.Website, slug string) string {
	base := strings.TrimRight(site.BaseURL, "/")
	if base == "" && site.Domain != "" {
		base = "https://" + site.Domain
	}
	return base + "/blog/" + slug
}

// HTTPOpts configures the net/http based channels.
type HTTPOpts struct {
	Client    *http.Client
	UserAgent string
}

func (o HTTPOpts) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func (o HTTPOpts) userAgent() string {
	if o.UserAgent != "" {
		return o.UserAgent
	}
	return "presswork/1.0"
}

// StatusError is returned when a channel endpoint answers with a non-2xx code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// postJSON sends body as JSON and treats any 2xx as success. Extra headers are
// set after the defaults, so they may override Content-Type.
func postJSON(ctx context.Context, opts HTTPOpts, url string, body interface{}, header http.Header) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return postRaw(ctx, opts, url, data, header)
}

func postRaw(ctx context.Context, opts HTTPOpts, url string, data []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", opts.userAgent())
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := opts.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
