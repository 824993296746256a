// Package pipeline runs the content generation steps for a job. The steps
// themselves are delegated to a Generator; this package owns their order,
// the progress marks reported after each, and step-scoped errors.
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Step names one stage of generation.
type Step string

const (
	StepResearch  Step = "research"
	StepOutline   Step = "outline"
	StepDraft     Step = "draft"
	StepToneMatch Step = "tone-match"
	StepSEO       Step = "seo-optimize"
	StepMetadata  Step = "metadata"
	StepImages    Step = "image-generation"
)

// Steps is the fixed execution order. Each step consumes the artifacts of
// the ones before it.
var Steps = []Step{StepResearch, StepOutline, StepDraft, StepToneMatch, StepSEO, StepMetadata, StepImages}

var stepProgress = map[Step]int{
	StepResearch:  10,
	StepOutline:   25,
	StepDraft:     45,
	StepToneMatch: 60,
	StepSEO:       75,
	StepMetadata:  85,
	StepImages:    95,
}

// Progress returns the job progress percentage reached once step finishes.
func Progress(s Step) int {
	return stepProgress[s]
}

// Request describes what to generate.
type Request struct {
	JobID         string `json:"jobId"`
	WebsiteID     string `json:"websiteId"`
	WebsiteName   string `json:"websiteName,omitempty"`
	Domain        string `json:"domain,omitempty"`
	Keyword       string `json:"keyword"`
	ContentLength string `json:"contentLength"`
	IncludeImages bool   `json:"includeImages"`
	IncludeFAQ    bool   `json:"includeFaq"`
}

// Artifacts accumulate across steps.
type Artifacts struct {
	Research *Research `json:"research,omitempty"`
	Outline  []string  `json:"outline,omitempty"`
	Markdown string    `json:"markdown,omitempty"`
	HTML     string    `json:"html,omitempty"`
	SEO      *SEO      `json:"seo,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Image    *Image    `json:"image,omitempty"`
	Skipped  []Step    `json:"skipped,omitempty"`
}

type Research struct {
	Summary   string   `json:"summary"`
	Questions []string `json:"questions,omitempty"`
	Sources   []string `json:"sources,omitempty"`
}

type SEO struct {
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	MetaDescription string   `json:"metaDescription"`
	Keywords        []string `json:"keywords,omitempty"`
	Score           int      `json:"score"`
}

type Metadata struct {
	Tags       []string `json:"tags,omitempty"`
	SchemaJSON string   `json:"schemaJson,omitempty"`
	Excerpt    string   `json:"excerpt,omitempty"`
}

type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// Generator performs a single step, reading and extending art.
type Generator interface {
	RunStep(ctx context.Context, step Step, req Request, art *Artifacts) error
}

// StepError is a failure scoped to one step. Its message is what gets
// recorded on the failed job.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ProgressFunc is called after each step. Returning an error stops the run
// and the error is returned unwrapped.
type ProgressFunc func(step Step, progress int) error

// Pipeline drives a Generator through Steps.
type Pipeline struct {
	gen Generator
}

// New returns a Pipeline backed by gen.
func New(gen Generator) *Pipeline {
	return &Pipeline{gen: gen}
}

// Run executes every step in order. Image generation is skipped when the
// request does not ask for images, but its progress mark is still reported.
func (p *Pipeline) Run(ctx context.Context, req Request, onProgress ProgressFunc) (*Artifacts, error) {
	if p.gen == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	art := &Artifacts{}

	for _, step := range Steps {
		if err := ctx.Err(); err != nil {
			return art, &StepError{Step: step, Err: err}
		}

		if step == StepImages && !req.IncludeImages {
			art.Skipped = append(art.Skipped, step)
		} else {
			if err := p.gen.RunStep(ctx, step, req, art); err != nil {
				return art, &StepError{Step: step, Err: err}
			}
			if err := check(step, art); err != nil {
				return art, &StepError{Step: step, Err: err}
			}
		}

		if onProgress != nil {
			if err := onProgress(step, Progress(step)); err != nil {
				return art, err
			}
		}
	}
	return art, nil
}

// check verifies that a step produced the artifact later steps depend on.
func check(step Step, art *Artifacts) error {
	switch step {
	case StepResearch:
		if art.Research == nil {
			return errors.New("generator returned no research")
		}
	case StepOutline:
		if len(art.Outline) == 0 {
			return errors.New("generator returned an empty outline")
		}
	case StepDraft, StepToneMatch:
		if art.Markdown == "" {
			return errors.New("generator returned an empty draft")
		}
	case StepSEO:
		if art.SEO == nil || art.SEO.Title == "" {
			return errors.New("generator returned no SEO title")
		}
	}
	return nil
}
