package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/pipeline"
	"github.com/zulandar/presswork/internal/publish"
	"gorm.io/datatypes"
)

const excerptLimit = 280

// NewSanitizer returns the policy applied to generated HTML before it is
// stored: user-generated-content rules with nofollow links.
func NewSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// renderHTML returns the generator's HTML, or renders the markdown when the
// generator produced none, and sanitizes the result.
func renderHTML(policy *bluemonday.Policy, art *pipeline.Artifacts) string {
	raw := art.HTML
	if strings.TrimSpace(raw) == "" {
		raw = string(blackfriday.Run([]byte(art.Markdown)))
	}
	return strings.TrimSpace(policy.Sanitize(raw))
}

// textStats derives the first-paragraph excerpt and the word count from
// sanitized HTML.
func textStats(html string) (excerpt string, words int, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", 0, err
	}
	// Count per text node; Text() joins adjacent blocks without a space.
	doc.Find("*").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#text" {
			words += len(strings.Fields(s.Text()))
		}
	})
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		excerpt = strings.Join(strings.Fields(s.Text()), " ")
		return excerpt == ""
	})
	return clip(excerpt, excerptLimit), words, nil
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimSpace(string(runes[:limit-1]))
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

// buildPost assembles the blog post for a finished job.
func buildPost(j *models.GenerationJob, art *pipeline.Artifacts, policy *bluemonday.Policy, now time.Time) (*models.BlogPost, error) {
	if art.SEO == nil {
		return nil, fmt.Errorf("missing SEO artifacts")
	}

	html := renderHTML(policy, art)
	excerpt, words, err := textStats(html)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	slug := art.SEO.Slug
	if slug == "" {
		slug = pipeline.Slugify(art.SEO.Title)
	}

	post := &models.BlogPost{
		ID:              uuid.NewString(),
		WebsiteID:       j.WebsiteID,
		JobID:           j.ID,
		KeywordID:       j.KeywordID,
		Title:           art.SEO.Title,
		Slug:            slug,
		Markdown:        art.Markdown,
		HTML:            html,
		Excerpt:         excerpt,
		MetaDescription: art.SEO.MetaDescription,
		WordCount:       words,
		SEOScore:        art.SEO.Score,
		Status:          publish.PostStatusFor(j.AutoPublish, j.ScheduleAt, now),
	}
	if art.Metadata != nil {
		if art.Metadata.Excerpt != "" {
			post.Excerpt = clip(art.Metadata.Excerpt, excerptLimit)
		}
		post.SchemaJSON = art.Metadata.SchemaJSON
		post.Tags = strings.Join(art.Metadata.Tags, ",")
	}
	if art.Image != nil {
		post.FeaturedImageURL = art.Image.URL
	}

	switch post.Status {
	case publish.PostScheduled:
		at := j.ScheduleAt.UTC()
		post.ScheduledAt = &at
	case publish.PostPublished:
		at := now.UTC()
		post.PublishedAt = &at
	}
	return post, nil
}

// jobOutput is the run summary stored on the job.
type jobOutput struct {
	Research *pipeline.Research `json:"research,omitempty"`
	Outline  []string           `json:"outline,omitempty"`
	SEO      *pipeline.SEO      `json:"seo,omitempty"`
	Skipped  []pipeline.Step    `json:"skipped,omitempty"`
	Words    int                `json:"words"`
}

func buildOutput(art *pipeline.Artifacts, post *models.BlogPost) datatypes.JSON {
	data, err := json.Marshal(jobOutput{
		Research: art.Research,
		Outline:  art.Outline,
		SEO:      art.SEO,
		Skipped:  art.Skipped,
		Words:    post.WordCount,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
