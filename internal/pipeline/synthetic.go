package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Synthetic is an offline Generator that assembles a plain article from the
// keyword alone. It is used when no generation endpoint is configured, in
// development and in tests.
type Synthetic struct{}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its alphanumeric runs with hyphens.
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func paragraphsFor(length string) int {
	switch length {
	case "short":
		return 1
	case "long":
		return 3
	default:
		return 2
	}
}

// RunStep implements Generator.
func (Synthetic) RunStep(ctx context.Context, step Step, req Request, art *Artifacts) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kw := strings.TrimSpace(req.Keyword)
	if kw == "" {
		return fmt.Errorf("keyword is empty")
	}
	title := titleCase(kw)

	switch step {
	case StepResearch:
		art.Research = &Research{
			Summary:   fmt.Sprintf("Readers searching for %q want practical, step-by-step guidance.", kw),
			Questions: []string{"What is " + kw + "?", "Why does " + kw + " matter?", "How do I get started with " + kw + "?"},
		}
	case StepOutline:
		art.Outline = []string{"What " + title + " Means", "Why It Matters", "How To Get Started"}
		if req.IncludeFAQ {
			art.Outline = append(art.Outline, "Frequently Asked Questions")
		}
	case StepDraft:
		var md, html strings.Builder
		for _, h := range art.Outline {
			fmt.Fprintf(&md, "## %s\n\n", h)
			fmt.Fprintf(&html, "<h2>%s</h2>\n", h)
			for i := range paragraphsFor(req.ContentLength) {
				p := fmt.Sprintf("This section covers %s, part %d, with concrete examples you can apply today.", strings.ToLower(h), i+1)
				fmt.Fprintf(&md, "%s\n\n", p)
				fmt.Fprintf(&html, "<p>%s</p>\n", p)
			}
		}
		art.Markdown = md.String()
		art.HTML = html.String()
	case StepToneMatch:
		if req.WebsiteName != "" {
			art.Markdown += fmt.Sprintf("\n_Brought to you by %s._\n", req.WebsiteName)
			art.HTML += fmt.Sprintf("<p><em>Brought to you by %s.</em></p>\n", req.WebsiteName)
		}
	case StepSEO:
		art.SEO = &SEO{
			Title:           title + ": A Practical Guide",
			Slug:            Slugify(kw),
			MetaDescription: fmt.Sprintf("Learn %s with a clear, practical guide.", kw),
			Keywords:        []string{kw},
			Score:           72,
		}
	case StepMetadata:
		art.Metadata = &Metadata{
			Tags:       strings.Fields(strings.ToLower(kw)),
			SchemaJSON: fmt.Sprintf(`{"@context":"https://schema.org","@type":"BlogPosting","headline":%q}`, art.SEO.Title),
		}
	case StepImages:
		art.Image = &Image{
			URL: "https://images.presswork.invalid/" + Slugify(kw) + ".png",
			Alt: title,
		}
	default:
		return fmt.Errorf("unknown step %q", step)
	}
	return nil
}
