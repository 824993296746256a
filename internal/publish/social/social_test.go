package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/publish"
)

type captured struct {
	path   string
	auth   string
	restli string
	body   map[string]interface{}
}

func newServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.restli = r.Header.Get("X-Restli-Protocol-Version")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"detail":"nope"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func content() publish.Content {
	return publish.Content{
		WebsiteName: "Acme",
		URL:         "https://acme.test/blog/how-to-invoice-clients",
		Title:       "How to invoice clients",
		Excerpt:     "A practical guide.",
	}
}

func TestTargets_TriggerGate(t *testing.T) {
	x := NewX(Opts{})
	cfg := models.PublishConfig{X: &models.SocialTarget{AccessToken: "tok"}}
	optIn := models.PublishConfig{X: &models.SocialTarget{AccessToken: "tok", PostOnManual: true}}

	tests := []struct {
		name    string
		cfg     models.PublishConfig
		trigger string
		want    int
	}{
		{"auto", cfg, publish.TriggerAuto, 1},
		{"schedule", cfg, publish.TriggerSchedule, 1},
		{"manual without opt-in", cfg, publish.TriggerManual, 0},
		{"manual with opt-in", optIn, publish.TriggerManual, 1},
		{"missing token", models.PublishConfig{X: &models.SocialTarget{}}, publish.TriggerAuto, 0},
		{"not configured", models.PublishConfig{}, publish.TriggerAuto, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, x.Targets(tt.cfg, tt.trigger), tt.want)
		})
	}
}

func TestX_Push(t *testing.T) {
	srv, got := newServer(t, http.StatusCreated)
	x := NewX(Opts{BaseURL: srv.URL, HTTPClient: srv.Client()})

	target := publish.Target{Name: "default", Config: models.SocialTarget{AccessToken: "x-token"}}
	require.NoError(t, x.Push(context.Background(), content(), target))

	assert.Equal(t, "/2/tweets", got.path)
	assert.Equal(t, "Bearer x-token", got.auth)
	assert.Equal(t, "How to invoice clients https://acme.test/blog/how-to-invoice-clients", got.body["text"])
}

func TestX_PushTruncatesLongText(t *testing.T) {
	srv, got := newServer(t, http.StatusCreated)
	x := NewX(Opts{BaseURL: srv.URL, HTTPClient: srv.Client()})

	c := content()
	for i := 0; i < 40; i++ {
		c.Excerpt += "very long excerpt "
	}
	target := publish.Target{Config: models.SocialTarget{AccessToken: "t", Template: "{title}: {excerpt} {url}"}}
	require.NoError(t, x.Push(context.Background(), c, target))

	text, _ := got.body["text"].(string)
	assert.LessOrEqual(t, len([]rune(text)), xTextLimit)
	assert.Contains(t, text, c.URL)
}

func TestLinkedIn_Push(t *testing.T) {
	srv, got := newServer(t, http.StatusCreated)
	li := NewLinkedIn(Opts{BaseURL: srv.URL, HTTPClient: srv.Client()})

	target := publish.Target{Config: models.SocialTarget{AccessToken: "li-token", AuthorURN: "urn:li:organization:42"}}
	require.NoError(t, li.Push(context.Background(), content(), target))

	assert.Equal(t, "/v2/ugcPosts", got.path)
	assert.Equal(t, "Bearer li-token", got.auth)
	assert.Equal(t, "2.0.0", got.restli)
	assert.Equal(t, "urn:li:organization:42", got.body["author"])
}

func TestLinkedIn_RequiresAuthor(t *testing.T) {
	li := NewLinkedIn(Opts{BaseURL: "http://unused.invalid"})
	err := li.Push(context.Background(), content(), publish.Target{Config: models.SocialTarget{AccessToken: "t"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "author urn is required")
}

func TestPush_Non2xx(t *testing.T) {
	srv, _ := newServer(t, http.StatusForbidden)
	x := NewX(Opts{BaseURL: srv.URL, HTTPClient: srv.Client()})

	err := x.Push(context.Background(), content(), publish.Target{Config: models.SocialTarget{AccessToken: "t"}})
	require.Error(t, err)

	var se *publish.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
}
