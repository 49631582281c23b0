package harvest

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Develata/rss-ai-news/internal/config"
	"github.com/Develata/rss-ai-news/internal/extract"
)

// Result is the outcome of harvesting a single source.
type Result struct {
	Source config.Source
	Items  []extract.Item
	Err    error
}

// Coordinator fans source harvesting out across a bounded worker pool with a
// global deadline. Workers that outlive the deadline are abandoned; the
// results channel is buffered so they can still finish and exit.
type Coordinator struct {
	extractor *extract.Extractor
	workers   int
	wait      time.Duration

	// Jitter produces the pre-fetch delay for each task. Overridable in
	// tests; defaults to 1.5-4s to spread load across hosts.
	Jitter func() time.Duration
}

// NewCoordinator builds a Coordinator from harvest settings.
func NewCoordinator(e *extract.Extractor, cfg config.Harvest) *Coordinator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	wait := time.Duration(cfg.WaitTimeoutSeconds) * time.Second
	if wait <= 0 {
		wait = 300 * time.Second
	}
	return &Coordinator{
		extractor: e,
		workers:   workers,
		wait:      wait,
		Jitter: func() time.Duration {
			return time.Duration(1500+rand.IntN(2500)) * time.Millisecond
		},
	}
}

// Run harvests all sources and returns whatever results arrive before the
// global deadline. Per-source failures are reported in the Result, never as
// an error from Run.
func (c *Coordinator) Run(ctx context.Context, sources []config.Source, cutoff time.Time) []Result {
	if len(sources) == 0 {
		return nil
	}

	tasks := make(chan config.Source)
	results := make(chan Result, len(sources))

	workers := min(c.workers, len(sources))
	for range workers {
		go c.worker(ctx, tasks, results, cutoff)
	}

	go func() {
		defer close(tasks)
		for _, src := range sources {
			select {
			case tasks <- src:
			case <-ctx.Done():
				return
			}
		}
	}()

	deadline := time.After(c.wait)
	collected := make([]Result, 0, len(sources))
	for range sources {
		select {
		case r := <-results:
			collected = append(collected, r)
		case <-deadline:
			slog.Warn("harvest deadline reached, abandoning remaining sources",
				"collected", len(collected), "total", len(sources))
			return collected
		case <-ctx.Done():
			return collected
		}
	}
	return collected
}

func (c *Coordinator) worker(ctx context.Context, tasks <-chan config.Source, results chan<- Result, cutoff time.Time) {
	for src := range tasks {
		select {
		case <-time.After(c.Jitter()):
		case <-ctx.Done():
			results <- Result{Source: src, Err: ctx.Err()}
			continue
		}

		start := time.Now()
		items, err := c.extractor.Extract(ctx, src, cutoff)
		if err != nil {
			slog.Error("source harvest failed", "source", src.Name, "error", err)
		} else {
			slog.Info("source harvested", "source", src.Name,
				"items", len(items), "elapsed", time.Since(start).Round(time.Millisecond))
		}
		results <- Result{Source: src, Items: items, Err: err}
	}
}
