package publish

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/zulandar/presswork/internal/models"
)

// WordPress creates posts through the WordPress REST API using application
// passwords.
type WordPress struct {
	opts HTTPOpts
}

// NewWordPress returns the WordPress channel.
func NewWordPress(opts HTTPOpts) *WordPress {
	return &WordPress{opts: opts}
}

func (wp *WordPress) Name() string { return "wordpress" }

func (wp *WordPress) Targets(cfg models.PublishConfig, _ string) []Target {
	var targets []Target
	for i, t := range cfg.WordPress {
		if t.SiteURL == "" {
			continue
		}
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("wordpress-%d", i+1)
		}
		targets = append(targets, Target{Name: name, Config: t})
	}
	return targets
}

type wordPressPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Excerpt string `json:"excerpt"`
	Slug    string `json:"slug"`
	Status  string `json:"status"`
}

func (wp *WordPress) Push(ctx context.Context, c Content, t Target) error {
	cfg, ok := t.Config.(models.WordPressTarget)
	if !ok {
		return fmt.Errorf("wordpress: unexpected target config %T", t.Config)
	}

	status := cfg.Status
	if status == "" {
		status = "publish"
	}

	endpoint := strings.TrimRight(cfg.SiteURL, "/") + "/wp-json/wp/v2/posts"
	header := http.Header{}
	header.Set("Authorization", basicAuth(cfg.Username, cfg.AppPassword))

	body := wordPressPost{
		Title:   c.Title,
		Content: c.HTML,
		Excerpt: c.Excerpt,
		Slug:    c.Slug,
		Status:  status,
	}
	if err := postJSON(ctx, wp.opts, endpoint, body, header); err != nil {
		return fmt.Errorf("wordpress: create post on %s: %w", t.Name, err)
	}
	return nil
}

func basicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}
