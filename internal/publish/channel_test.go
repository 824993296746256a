package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/presswork/internal/models"
)

type recorded struct {
	method string
	path   string
	header http.Header
	body   []byte
}

func recorder(t *testing.T, status int) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.header = r.Header.Clone()
		rec.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream says no"))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func sampleContent() Content {
	return Content{
		PostID:      "post-1",
		WebsiteID:   "site-1",
		WebsiteName: "Acme Blog",
		Domain:      "acme.test",
		URL:         "https://acme.test/blog/how-to-invoice-clients",
		Title:       "How to invoice clients",
		Slug:        "how-to-invoice-clients",
		Excerpt:     "A practical guide.",
		HTML:        "<p>Send it early.</p>",
		Tags:        []string{"billing"},
		TriggeredBy: TriggerAuto,
	}
}

func TestWebhook_SignsPayload(t *testing.T) {
	srv, rec := recorder(t, http.StatusOK)
	w := NewWebhook(HTTPOpts{Client: srv.Client(), UserAgent: "pw-test"})
	w.now = func() time.Time { return time.Unix(1700000000, 0) }

	target := w.Targets(models.PublishConfig{Webhook: &models.WebhookTarget{URL: srv.URL + "/hook", Secret: "s3cret"}}, TriggerAuto)
	require.Len(t, target, 1)
	require.NoError(t, w.Push(context.Background(), sampleContent(), target[0]))

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/hook", rec.path)
	assert.Equal(t, "pw-test", rec.header.Get("User-Agent"))
	assert.Equal(t, EventPostPublished, rec.header.Get(EventHeader))
	assert.Equal(t, "1700000000", rec.header.Get(TimestampHeader))
	assert.True(t, VerifySignature("s3cret", rec.body, rec.header.Get(SignatureHeader)))
	assert.False(t, VerifySignature("other", rec.body, rec.header.Get(SignatureHeader)))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.body, &payload))
	assert.Equal(t, "post.published", payload["event"])
	post := payload["post"].(map[string]interface{})
	assert.Equal(t, "https://acme.test/blog/how-to-invoice-clients", post["url"])
}

func TestWebhook_NoSecretNoSignature(t *testing.T) {
	srv, rec := recorder(t, http.StatusNoContent)
	w := NewWebhook(HTTPOpts{Client: srv.Client()})

	require.NoError(t, w.Push(context.Background(), sampleContent(), Target{Config: models.WebhookTarget{URL: srv.URL}}))
	assert.Empty(t, rec.header.Get(SignatureHeader))
}

func TestWebhook_Non2xx(t *testing.T) {
	srv, _ := recorder(t, http.StatusBadGateway)
	w := NewWebhook(HTTPOpts{Client: srv.Client()})

	err := w.Push(context.Background(), sampleContent(), Target{Config: models.WebhookTarget{URL: srv.URL}})
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "upstream says no", se.Body)
}

func TestVerifySignature_Malformed(t *testing.T) {
	for _, h := range []string{"", "sha256=", "md5=abcd", "sha256=zz"} {
		assert.False(t, VerifySignature("k", []byte("{}"), h), "header %q", h)
	}
}

func TestIndexNow_Submit(t *testing.T) {
	srv, rec := recorder(t, http.StatusAccepted)
	n := NewIndexNow(HTTPOpts{Client: srv.Client()})

	cfg := models.PublishConfig{IndexNow: &models.IndexNowTarget{Key: "abc", Endpoint: srv.URL + "/indexnow"}}
	targets := n.Targets(cfg, TriggerManual)
	require.Len(t, targets, 1)
	require.NoError(t, n.Push(context.Background(), sampleContent(), targets[0]))

	var req indexNowRequest
	require.NoError(t, json.Unmarshal(rec.body, &req))
	assert.Equal(t, "acme.test", req.Host)
	assert.Equal(t, "abc", req.Key)
	assert.Equal(t, []string{"https://acme.test/blog/how-to-invoice-clients"}, req.URLList)
}

func TestIndexNow_Targets(t *testing.T) {
	n := NewIndexNow(HTTPOpts{})
	assert.Empty(t, n.Targets(models.PublishConfig{}, TriggerAuto))
	assert.Empty(t, n.Targets(models.PublishConfig{IndexNow: &models.IndexNowTarget{}}, TriggerAuto))
}

func TestIndexNow_BadURL(t *testing.T) {
	n := NewIndexNow(HTTPOpts{})
	c := sampleContent()
	c.URL = "/blog/relative"
	err := n.Push(context.Background(), c, Target{Config: models.IndexNowTarget{Key: "k"}})
	assert.ErrorContains(t, err, "has no host")
}

func TestWordPress_CreatesPost(t *testing.T) {
	srv, rec := recorder(t, http.StatusCreated)
	wp := NewWordPress(HTTPOpts{Client: srv.Client()})

	target := Target{Name: "main", Config: models.WordPressTarget{SiteURL: srv.URL + "/", Username: "editor", AppPassword: "app pass"}}
	require.NoError(t, wp.Push(context.Background(), sampleContent(), target))

	assert.Equal(t, "/wp-json/wp/v2/posts", rec.path)
	user, pass, ok := (&http.Request{Header: rec.header}).BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "editor", user)
	assert.Equal(t, "app pass", pass)

	var body wordPressPost
	require.NoError(t, json.Unmarshal(rec.body, &body))
	assert.Equal(t, "publish", body.Status)
	assert.Equal(t, "<p>Send it early.</p>", body.Content)
	assert.Equal(t, "how-to-invoice-clients", body.Slug)
}

func TestWordPress_Targets(t *testing.T) {
	wp := NewWordPress(HTTPOpts{})
	got := wp.Targets(models.PublishConfig{WordPress: []models.WordPressTarget{
		{SiteURL: "https://a.test"},
		{Name: "mirror", SiteURL: "https://b.test"},
		{Name: "broken"},
	}}, TriggerAuto)
	require.Len(t, got, 2)
	assert.Equal(t, "wordpress-1", got[0].Name)
	assert.Equal(t, "mirror", got[1].Name)
}

func TestWordPress_Error(t *testing.T) {
	srv, _ := recorder(t, http.StatusUnauthorized)
	wp := NewWordPress(HTTPOpts{Client: srv.Client()})

	err := wp.Push(context.Background(), sampleContent(), Target{Name: "main", Config: models.WordPressTarget{SiteURL: srv.URL}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "wordpress: create post on main"))
}

func TestAnnounce(t *testing.T) {
	a := Announce(sampleContent())
	assert.Equal(t, "How to invoice clients", a.Title)
	assert.Equal(t, "A practical guide.", a.Body)
	assert.Equal(t, ColorPublished, a.Color)
	require.Len(t, a.Fields, 3)
	assert.Equal(t, "Acme Blog", a.Fields[0].Value)

	c := sampleContent()
	c.Excerpt = ""
	c.MetaDescription = "meta"
	c.TriggeredBy = TriggerSchedule
	a = Announce(c)
	assert.Equal(t, "meta", a.Body)
	assert.Equal(t, ColorScheduled, a.Color)
}

func TestSummary(t *testing.T) {
	c := sampleContent()

	tests := []struct {
		name     string
		template string
		limit    int
		want     string
	}{
		{"default template", "", 0, "How to invoice clients https://acme.test/blog/how-to-invoice-clients"},
		{"custom template", "New on {site}: {title}", 0, "New on Acme Blog: How to invoice clients"},
		{"truncated without url", "{title}", 10, "How to in…"},
		{"url kept whole", "{title} {url}", 55, "How to i… https://acme.test/blog/how-to-invoice-clients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summary(tt.template, c, tt.limit))
		})
	}
}
