package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/metrics"
	"github.com/zulandar/presswork/internal/models"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Hook identifies one publish event.
type Hook struct {
	PostID      string
	WebsiteID   string
	TriggeredBy string
}

// Result is the outcome of one channel target.
type Result struct {
	Channel  string        `json:"channel"`
	Target   string        `json:"target"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// Report summarizes a publish hook run.
type Report struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results,omitempty"`
}

// FanoutOpts configures a Fanout.
type FanoutOpts struct {
	DB       *gorm.DB
	Channels []Channel
	Logger   zerolog.Logger
	// TaskTimeout bounds each channel push. Zero means no per-task limit.
	TaskTimeout time.Duration
}

// Fanout runs publish hooks across a fixed set of channels.
type Fanout struct {
	db          *gorm.DB
	channels    []Channel
	log         zerolog.Logger
	taskTimeout time.Duration
	now         func() time.Time
}

// NewFanout validates opts and returns a Fanout.
func NewFanout(opts FanoutOpts) (*Fanout, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("publish: db is required")
	}
	seen := make(map[string]bool, len(opts.Channels))
	for _, ch := range opts.Channels {
		if ch == nil {
			return nil, fmt.Errorf("publish: nil channel")
		}
		if seen[ch.Name()] {
			return nil, fmt.Errorf("publish: duplicate channel %q", ch.Name())
		}
		seen[ch.Name()] = true
	}
	return &Fanout{
		db:          opts.DB,
		channels:    opts.Channels,
		log:         opts.Logger,
		taskTimeout: opts.TaskTimeout,
		now:         time.Now,
	}, nil
}

// Channels returns the registered channel names in order.
func (f *Fanout) Channels() []string {
	names := make([]string, 0, len(f.channels))
	for _, ch := range f.channels {
		names = append(names, ch.Name())
	}
	return names
}

type task struct {
	channel Channel
	target  Target
}

// RunPublishHook pushes a post to every configured channel target and waits
// for all of them to settle. It never returns an error: load failures yield an
// empty report and every task failure, panics included, becomes a failed
// Result and a PublishAttempt row.
func (f *Fanout) RunPublishHook(ctx context.Context, h Hook) Report {
	log := f.log.With().
		Str("post_id", h.PostID).
		Str("website_id", h.WebsiteID).
		Str("trigger", h.TriggeredBy).
		Logger()

	store := f.db.WithContext(context.WithoutCancel(ctx))

	post, err := GetPost(store, h.PostID)
	if err != nil {
		log.Error().Err(err).Msg("publish hook: load post")
		return Report{}
	}
	websiteID := h.WebsiteID
	if websiteID == "" {
		websiteID = post.WebsiteID
	}
	var site models.Website
	if err := store.Where("id = ?", websiteID).First(&site).Error; err != nil {
		log.Error().Err(err).Msg("publish hook: load website")
		return Report{}
	}

	cfg := site.PublishConfig.Data()
	var tasks []task
	for _, ch := range f.channels {
		for _, t := range ch.Targets(cfg, h.TriggeredBy) {
			tasks = append(tasks, task{channel: ch, target: t})
		}
	}
	if len(tasks) == 0 {
		log.Debug().Msg("publish hook: no channels configured")
		return Report{}
	}

	content := NewContent(post, &site, h.TriggeredBy)
	results := make([]Result, len(tasks))

	var g errgroup.Group
	for i, tk := range tasks {
		g.Go(func() error {
			results[i] = f.runTask(ctx, tk, content)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Attempted: len(results), Results: results}
	attempts := make([]models.PublishAttempt, 0, len(results))
	for _, r := range results {
		if r.Success {
			report.Succeeded++
		} else {
			report.Failed++
			log.Warn().Str("channel", r.Channel).Str("target", r.Target).Str("error", r.Error).Msg("publish push failed")
		}
		metrics.PublishPush(r.Channel, r.Success)
		attempts = append(attempts, models.PublishAttempt{
			PostID:      post.ID,
			WebsiteID:   site.ID,
			Channel:     r.Channel,
			Target:      truncate(r.Target, 128),
			TriggeredBy: h.TriggeredBy,
			Success:     r.Success,
			Error:       r.Error,
			DurationMS:  r.Duration.Milliseconds(),
		})
	}
	if err := store.Create(&attempts).Error; err != nil {
		log.Error().Err(err).Msg("publish hook: record attempts")
	}

	log.Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("publish hook settled")
	return report
}

// runTask pushes one target, converting errors and panics into a Result.
func (f *Fanout) runTask(ctx context.Context, tk task, content Content) (res Result) {
	res = Result{Channel: tk.channel.Name(), Target: tk.target.Name}
	start := f.now()
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Duration = f.now().Sub(start)
	}()

	if f.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.taskTimeout)
		defer cancel()
	}

	err := tk.channel.Push(ctx, content, tk.target)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: timed out: %w", res.Channel, err)
		}
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
