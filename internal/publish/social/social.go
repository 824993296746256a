// Package social shares published posts on X and LinkedIn. Both networks are
// called with the website's OAuth2 access token.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/publish"
	"golang.org/x/oauth2"
)

const (
	DefaultXBaseURL        = "https://api.twitter.com"
	DefaultLinkedInBaseURL = "https://api.linkedin.com"

	xTextLimit        = 280
	linkedInTextLimit = 3000
)

// Opts configures a social channel.
type Opts struct {
	// BaseURL overrides the network's API root.
	BaseURL string
	// HTTPClient is the transport the OAuth2 client wraps.
	HTTPClient *http.Client
	UserAgent  string
}

// network is the per-network half of a social channel.
type network interface {
	name() string
	target(cfg models.PublishConfig) *models.SocialTarget
	request(c publish.Content, t models.SocialTarget) (path string, body interface{}, err error)
}

// Channel implements publish.Channel for one social network.
type Channel struct {
	net     network
	baseURL string
	client  *http.Client
	agent   string
}

// NewX returns the X (Twitter) channel.
func NewX(opts Opts) *Channel {
	return newChannel(xNetwork{}, DefaultXBaseURL, opts)
}

// NewLinkedIn returns the LinkedIn channel.
func NewLinkedIn(opts Opts) *Channel {
	return newChannel(linkedInNetwork{}, DefaultLinkedInBaseURL, opts)
}

func newChannel(n network, defaultBase string, opts Opts) *Channel {
	c := &Channel{net: n, baseURL: opts.BaseURL, client: opts.HTTPClient, agent: opts.UserAgent}
	if c.baseURL == "" {
		c.baseURL = defaultBase
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.agent == "" {
		c.agent = "presswork/1.0"
	}
	return c
}

func (c *Channel) Name() string { return c.net.name() }

// Targets returns the network's target unless the publish was manual and the
// website did not opt in to social posts on manual publishes.
func (c *Channel) Targets(cfg models.PublishConfig, trigger string) []publish.Target {
	t := c.net.target(cfg)
	if t == nil || t.AccessToken == "" {
		return nil
	}
	if trigger == publish.TriggerManual && !t.PostOnManual {
		return nil
	}
	return []publish.Target{{Name: "default", Config: *t}}
}

func (c *Channel) Push(ctx context.Context, content publish.Content, t publish.Target) error {
	cfg, ok := t.Config.(models.SocialTarget)
	if !ok {
		return fmt.Errorf("%s: unexpected target config %T", c.Name(), t.Config)
	}

	path, body, err := c.net.request(content, cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name(), err)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", c.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.agent)
	if c.Name() == "linkedin" {
		req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	}

	resp, err := c.oauthClient(ctx, cfg.AccessToken).Do(req)
	if err != nil {
		return fmt.Errorf("%s: post: %w", c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: post: %w", c.Name(), &publish.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}
	return nil
}

// oauthClient wraps the base transport with a static bearer token source.
func (c *Channel) oauthClient(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// --- X ---

type xNetwork struct{}

type xTweet struct {
	Text string `json:"text"`
}

func (xNetwork) name() string { return "x" }

func (xNetwork) target(cfg models.PublishConfig) *models.SocialTarget { return cfg.X }

func (xNetwork) request(c publish.Content, t models.SocialTarget) (string, interface{}, error) {
	return "/2/tweets", xTweet{Text: publish.Summary(t.Template, c, xTextLimit)}, nil
}

// --- LinkedIn ---

type linkedInNetwork struct{}

func (linkedInNetwork) name() string { return "linkedin" }

func (linkedInNetwork) target(cfg models.PublishConfig) *models.SocialTarget { return cfg.LinkedIn }

func (linkedInNetwork) request(c publish.Content, t models.SocialTarget) (string, interface{}, error) {
	if t.AuthorURN == "" {
		return "", nil, fmt.Errorf("author urn is required")
	}
	template := t.Template
	if template == "" {
		template = "{title}\n\n{excerpt}"
	}
	body := map[string]interface{}{
		"author":         t.AuthorURN,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": map[string]interface{}{
				"shareCommentary": map[string]string{
					"text": publish.Summary(strings.ReplaceAll(template, "{url}", ""), c, linkedInTextLimit),
				},
				"shareMediaCategory": "ARTICLE",
				"media": []map[string]interface{}{{
					"status":      "READY",
					"originalUrl": c.URL,
					"title":       map[string]string{"text": c.Title},
				}},
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	return "/v2/ugcPosts", body, nil
}
