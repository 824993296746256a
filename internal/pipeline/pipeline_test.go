package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingGen wraps Synthetic, records step order and can fail at one step.
type recordingGen struct {
	mu     sync.Mutex
	steps  []Step
	failAt Step
}

func (g *recordingGen) RunStep(ctx context.Context, step Step, req Request, art *Artifacts) error {
	g.mu.Lock()
	g.steps = append(g.steps, step)
	g.mu.Unlock()
	if step == g.failAt {
		return errors.New("upstream returned 502")
	}
	return Synthetic{}.RunStep(ctx, step, req, art)
}

func TestRun_StepsInOrderWithMonotonicProgress(t *testing.T) {
	gen := &recordingGen{}
	var progress []int

	art, err := New(gen).Run(context.Background(), Request{Keyword: "how to invoice clients", IncludeImages: true}, func(step Step, p int) error {
		progress = append(progress, p)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, Steps, gen.steps)
	assert.Equal(t, []int{10, 25, 45, 60, 75, 85, 95}, progress)
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i], progress[i-1])
	}
	require.NotNil(t, art.SEO)
	assert.Equal(t, "how-to-invoice-clients", art.SEO.Slug)
	require.NotNil(t, art.Image)
	assert.Empty(t, art.Skipped)
}

func TestRun_SkipsImagesWhenNotRequested(t *testing.T) {
	gen := &recordingGen{}
	var last int

	art, err := New(gen).Run(context.Background(), Request{Keyword: "payroll"}, func(step Step, p int) error {
		last = p
		return nil
	})
	require.NoError(t, err)

	assert.NotContains(t, gen.steps, StepImages)
	assert.Equal(t, []Step{StepImages}, art.Skipped)
	assert.Nil(t, art.Image)
	assert.Equal(t, 95, last)
}

func TestRun_StepFailureStopsPipeline(t *testing.T) {
	gen := &recordingGen{failAt: StepDraft}

	_, err := New(gen).Run(context.Background(), Request{Keyword: "payroll"}, nil)
	require.Error(t, err)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepDraft, se.Step)
	assert.Equal(t, "step draft: upstream returned 502", err.Error())
	assert.Equal(t, []Step{StepResearch, StepOutline, StepDraft}, gen.steps)
}

func TestRun_ProgressErrorAborts(t *testing.T) {
	gen := &recordingGen{}
	stop := errors.New("job reclaimed")

	_, err := New(gen).Run(context.Background(), Request{Keyword: "payroll"}, func(step Step, p int) error {
		if step == StepOutline {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	var se *StepError
	assert.False(t, errors.As(err, &se), "progress errors are returned unwrapped")
	assert.Len(t, gen.steps, 2)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Synthetic{}).Run(ctx, Request{Keyword: "payroll"}, nil)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepResearch, se.Step)
	assert.ErrorIs(t, err, context.Canceled)
}

type emptyGen struct{}

func (emptyGen) RunStep(context.Context, Step, Request, *Artifacts) error { return nil }

func TestRun_MissingArtifactIsStepFailure(t *testing.T) {
	_, err := New(emptyGen{}).Run(context.Background(), Request{Keyword: "payroll"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step research: generator returned no research")
}

func TestRun_NilGenerator(t *testing.T) {
	_, err := New(nil).Run(context.Background(), Request{}, nil)
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"How to Invoice Clients": "how-to-invoice-clients",
		"  C++ & Go: 2026!  ":    "c-go-2026",
		"already-slugged":        "already-slugged",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}

func TestHTTPGenerator_RunStep(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var in stepRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "payroll", in.Request.Keyword)

		in.Artifacts.Research = &Research{Summary: "from service"}
		json.NewEncoder(w).Encode(stepResponse{Artifacts: in.Artifacts})
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(HTTPOpts{Endpoint: srv.URL + "/", APIKey: "k", RequestsPerMinute: 600})
	art := &Artifacts{}
	require.NoError(t, gen.RunStep(context.Background(), StepResearch, Request{Keyword: "payroll"}, art))

	assert.Equal(t, "/v1/steps/research", gotPath)
	assert.Equal(t, "Bearer k", gotAuth)
	require.NotNil(t, art.Research)
	assert.Equal(t, "from service", art.Research.Summary)
}

func TestHTTPGenerator_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(HTTPOpts{Endpoint: srv.URL, RequestsPerMinute: 600})
	err := gen.RunStep(context.Background(), StepDraft, Request{Keyword: "x"}, &Artifacts{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "503"), err.Error())
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPGenerator_ServiceReportedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(stepResponse{Error: "content policy violation"})
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(HTTPOpts{Endpoint: srv.URL, RequestsPerMinute: 600})
	err := gen.RunStep(context.Background(), StepDraft, Request{Keyword: "x"}, &Artifacts{})
	assert.EqualError(t, err, "generation service: content policy violation")
}
