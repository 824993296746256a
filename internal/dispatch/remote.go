package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WorkerPath is the endpoint a remote worker serves for pull requests.
const WorkerPath = "/internal/worker"

// SecretHeader carries the shared worker secret.
const SecretHeader = "X-Worker-Secret"

const (
	maxNotifyAttempts = 3
	notifyBackoff     = 500 * time.Millisecond
)

// RemoteOpts configures a Remote dispatcher. The worker answers a pull only
// after running the job, so the request timeout follows JobTimeout.
type RemoteOpts struct {
	WorkerURL  string
	Secret     string
	JobTimeout time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Remote notifies a worker process over HTTP. A failed notification leaves
// the job QUEUED; polling workers pick it up on their next pass.
type Remote struct {
	url         string
	secret      string
	client      *http.Client
	log         zerolog.Logger
	baseBackoff time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRemote validates opts and returns a Remote dispatcher.
func NewRemote(opts RemoteOpts) (*Remote, error) {
	if opts.WorkerURL == "" {
		return nil, fmt.Errorf("dispatch: worker_url is required for remote mode")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.JobTimeout
		if timeout <= 0 {
			timeout = DefaultJobTimeout
		}
		client = &http.Client{Timeout: timeout + time.Minute}
	}
	return &Remote{
		url:         strings.TrimRight(opts.WorkerURL, "/") + WorkerPath,
		secret:      opts.Secret,
		client:      client,
		log:         opts.Logger.With().Str("component", "dispatch").Logger(),
		baseBackoff: notifyBackoff,
	}, nil
}

// Dispatch notifies the worker on a background goroutine and returns
// immediately.
func (r *Remote) Dispatch(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShuttingDown
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.notify(context.Background(), jobID); err != nil {
			r.log.Warn().Err(err).Str("job_id", jobID).Msg("worker notification failed; job left queued")
		}
	}()
	return nil
}

func (r *Remote) notify(ctx context.Context, jobID string) error {
	body, err := json.Marshal(map[string]string{"jobId": jobID})
	if err != nil {
		return fmt.Errorf("dispatch: marshal: %w", err)
	}

	var lastErr error
	for attempt := range maxNotifyAttempts {
		if attempt > 0 {
			if err := sleepWithContext(ctx, r.baseBackoff*time.Duration(1<<(attempt-1))); err != nil {
				return err
			}
		}
		retry, err := r.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// post sends one notification and reports whether a failure is worth
// retrying.
func (r *Remote) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("dispatch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, r.secret)

	resp, err := r.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("dispatch: notify worker: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	return resp.StatusCode >= 500, fmt.Errorf("dispatch: worker returned %d", resp.StatusCode)
}

// Shutdown stops accepting jobs and waits for pending notifications.
func (r *Remote) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
