package publish

import (
	"context"
	"fmt"
	"net/url"

	"github.com/zulandar/presswork/internal/models"
)

// DefaultIndexNowEndpoint is the shared IndexNow endpoint; it forwards to all
// participating search engines.
const DefaultIndexNowEndpoint = "https://api.indexnow.org/indexnow"

// IndexNow notifies search engines that a post URL changed.
type IndexNow struct {
	opts HTTPOpts
}

// NewIndexNow returns the IndexNow channel.
func NewIndexNow(opts HTTPOpts) *IndexNow {
	return &IndexNow{opts: opts}
}

func (n *IndexNow) Name() string { return "indexnow" }

func (n *IndexNow) Targets(cfg models.PublishConfig, _ string) []Target {
	if cfg.IndexNow == nil || cfg.IndexNow.Key == "" {
		return nil
	}
	return []Target{{Name: "default", Config: *cfg.IndexNow}}
}

type indexNowRequest struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation,omitempty"`
	URLList     []string `json:"urlList"`
}

func (n *IndexNow) Push(ctx context.Context, c Content, t Target) error {
	cfg, ok := t.Config.(models.IndexNowTarget)
	if !ok {
		return fmt.Errorf("indexnow: unexpected target config %T", t.Config)
	}

	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("indexnow: post url %q has no host", c.URL)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultIndexNowEndpoint
	}

	req := indexNowRequest{
		Host:        u.Host,
		Key:         cfg.Key,
		KeyLocation: cfg.KeyLocation,
		URLList:     []string{c.URL},
	}
	if err := postJSON(ctx, n.opts, endpoint, req, nil); err != nil {
		return fmt.Errorf("indexnow: submit: %w", err)
	}
	return nil
}
