// Package github commits published posts as markdown files to a static-site
// repository.
package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/publish"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the directory posts are written to when a target sets none.
const DefaultPath = "content/posts"

// Opts configures the GitHub channel.
type Opts struct {
	// BaseURL overrides the API root, e.g. for GitHub Enterprise.
	BaseURL string
	// HTTPClient is the transport the OAuth2 client wraps.
	HTTPClient *http.Client
}

// Channel implements publish.Channel for GitHub repositories.
type Channel struct {
	baseURL    string
	httpClient *http.Client
}

// New returns the GitHub channel.
func New(opts Opts) *Channel {
	return &Channel{baseURL: opts.BaseURL, httpClient: opts.HTTPClient}
}

func (c *Channel) Name() string { return "github" }

func (c *Channel) Targets(cfg models.PublishConfig, _ string) []publish.Target {
	var targets []publish.Target
	for _, t := range cfg.GitHub {
		if t.Owner == "" || t.Repo == "" || t.Token == "" {
			continue
		}
		name := t.Name
		if name == "" {
			name = t.Owner + "/" + t.Repo
		}
		targets = append(targets, publish.Target{Name: name, Config: t})
	}
	return targets
}

// Push creates or updates <path>/<slug>.md on the target branch.
func (c *Channel) Push(ctx context.Context, content publish.Content, t publish.Target) error {
	cfg, ok := t.Config.(models.GitHubTarget)
	if !ok {
		return fmt.Errorf("github: unexpected target config %T", t.Config)
	}

	client, err := c.client(ctx, cfg.Token)
	if err != nil {
		return err
	}

	file, err := RenderMarkdown(content)
	if err != nil {
		return fmt.Errorf("github: render: %w", err)
	}

	dir := cfg.Path
	if dir == "" {
		dir = DefaultPath
	}
	filePath := path.Join(dir, content.Slug+".md")

	var getOpts *gh.RepositoryContentGetOptions
	if cfg.Branch != "" {
		getOpts = &gh.RepositoryContentGetOptions{Ref: cfg.Branch}
	}
	existing, _, resp, err := client.Repositories.GetContents(ctx, cfg.Owner, cfg.Repo, filePath, getOpts)
	if err != nil && !isNotFound(resp, err) {
		return fmt.Errorf("github: get %s: %w", filePath, err)
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(fmt.Sprintf("Publish %q", content.Title)),
		Content: file,
	}
	if cfg.Branch != "" {
		opts.Branch = gh.Ptr(cfg.Branch)
	}

	if existing != nil {
		opts.Message = gh.Ptr(fmt.Sprintf("Update %q", content.Title))
		opts.SHA = existing.SHA
		if _, _, err := client.Repositories.UpdateFile(ctx, cfg.Owner, cfg.Repo, filePath, opts); err != nil {
			return fmt.Errorf("github: update %s: %w", filePath, err)
		}
		return nil
	}
	if _, _, err := client.Repositories.CreateFile(ctx, cfg.Owner, cfg.Repo, filePath, opts); err != nil {
		return fmt.Errorf("github: create %s: %w", filePath, err)
	}
	return nil
}

func (c *Channel) client(ctx context.Context, token string) (*gh.Client, error) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	client := gh.NewClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
	if c.baseURL != "" {
		base, err := url.Parse(strings.TrimRight(c.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github: base url: %w", err)
		}
		client.BaseURL = base
	}
	return client, nil
}

func isNotFound(resp *gh.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var er *gh.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}

type frontMatter struct {
	Title       string    `yaml:"title"`
	Slug        string    `yaml:"slug"`
	Date        time.Time `yaml:"date"`
	Description string    `yaml:"description,omitempty"`
	Tags        []string  `yaml:"tags,omitempty"`
	Image       string    `yaml:"image,omitempty"`
}

// RenderMarkdown returns the post as a markdown file with YAML front matter.
func RenderMarkdown(c publish.Content) ([]byte, error) {
	date := c.PublishedAt
	if date.IsZero() {
		date = time.Now().UTC()
	}
	description := c.MetaDescription
	if description == "" {
		description = c.Excerpt
	}
	fm, err := yaml.Marshal(frontMatter{
		Title:       c.Title,
		Slug:        c.Slug,
		Date:        date.Truncate(time.Second),
		Description: description,
		Tags:        c.Tags,
		Image:       c.FeaturedImageURL,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimSpace(c.Markdown))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
