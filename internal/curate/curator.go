// Package curate runs the evaluation loop: it polls the store for
// unprocessed records, asks the completion model to judge each one, and
// writes summaries, tags and scores back in small commits.
package curate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Develata/rss-ai-news/internal/ai"
	"github.com/Develata/rss-ai-news/internal/config"
	"github.com/Develata/rss-ai-news/internal/store"
	"github.com/Develata/rss-ai-news/internal/strategy"
)

const evalTemperature = 0.2

// Curator drives the curation loop over one store.
type Curator struct {
	store    *store.Store
	client   ai.Client
	registry *strategy.Registry

	batchSize   int
	commitEvery int
	workers     int
	maxRetries  int
	baseDelay   time.Duration

	// Sleep is the backoff hook, replaced in tests.
	Sleep func(context.Context, time.Duration)
}

// New builds a Curator from curate and AI settings.
func New(st *store.Store, client ai.Client, reg *strategy.Registry, cfg config.Curate, aiCfg config.AI) *Curator {
	workers := aiCfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	retries := aiCfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	return &Curator{
		store:       st,
		client:      client,
		registry:    reg,
		batchSize:   cfg.BatchSize,
		commitEvery: cfg.CommitEvery,
		workers:     workers,
		maxRetries:  retries,
		baseDelay:   time.Duration(aiCfg.BaseDelaySeconds * float64(time.Second)),
		Sleep:       sleepCtx,
	}
}

// Run curates until no unprocessed records remain or a fatal error stops the
// loop. Returns the number of records written back. A round that writes
// nothing back also stops the loop: every record in it failed, and polling
// again would retry the same records forever.
func (c *Curator) Run(ctx context.Context) (int, error) {
	total := 0
	for {
		ids, err := c.store.UnprocessedIDs(c.batchSize)
		if err != nil {
			return total, fmt.Errorf("polling unprocessed records: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}

		records, err := c.store.RecordsByIDs(ids)
		if err != nil {
			return total, fmt.Errorf("loading batch: %w", err)
		}

		applied, err := c.curateBatch(ctx, records)
		total += applied
		if err != nil {
			return total, err
		}
		if applied == 0 {
			slog.Warn("curation round wrote nothing back, stopping", "batch", len(records))
			return total, nil
		}
		slog.Info("curation round complete", "applied", applied, "total", total)
	}
}

type outcome struct {
	update store.CurationUpdate
	err    error
}

// curateBatch evaluates one batch with a small worker pool, committing every
// commitEvery updates. Completion failures are per record: the record is
// skipped and stays unprocessed for the next run. Only cancellation aborts
// the batch.
func (c *Curator) curateBatch(ctx context.Context, records []store.Record) (int, error) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan store.Record)
	results := make(chan outcome, len(records))

	var wg sync.WaitGroup
	for range min(c.workers, len(records)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				upd, err := c.curateOne(batchCtx, rec)
				results <- outcome{update: upd, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, rec := range records {
			select {
			case jobs <- rec:
			case <-batchCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	applied := 0
	var pending []store.CurationUpdate
	// A failed commit drops its sub-batch; those records stay unprocessed
	// and come back on the next poll.
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := c.store.ApplyCurations(pending); err != nil {
			slog.Error("curation commit failed, dropping sub-batch", "count", len(pending), "error", err)
		} else {
			applied += len(pending)
		}
		pending = pending[:0]
	}

	var fatal error
	for o := range results {
		if o.err != nil {
			if isFatal(o.err) {
				if fatal == nil {
					fatal = o.err
					cancel()
				}
				continue
			}
			slog.Warn("record skipped", "error", o.err)
			continue
		}
		pending = append(pending, o.update)
		if len(pending) >= c.commitEvery {
			flush()
		}
	}

	flush()
	return applied, fatal
}

func (c *Curator) curateOne(ctx context.Context, rec store.Record) (store.CurationUpdate, error) {
	st := c.registry.For(rec.Category)
	body := strategy.Truncate(rec.Body, st.MaxInputChars)
	user := "Title: " + rec.Title + "\n\nContent: " + body

	resp, err := c.completeWithRetry(ctx, st.Prompt, user)
	if err != nil {
		return store.CurationUpdate{}, fmt.Errorf("record %d: %w", rec.ID, err)
	}

	cur := ParseResponse(resp)
	if cur.Filtered {
		slog.Debug("record filtered", "id", rec.ID, "title", rec.Title)
	}
	return store.CurationUpdate{
		ID:      rec.ID,
		Summary: cur.Summary,
		Tags:    cur.Tags,
		Score:   cur.Score,
	}, nil
}

// completeWithRetry retries rate-limited completions with linearly growing
// delay. Any other error is returned to the caller at once.
func (c *Curator) completeWithRetry(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.Complete(ctx, system, user, evalTemperature)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ai.ErrRateLimited) {
			return "", err
		}
		lastErr = err
		if attempt < c.maxRetries {
			delay := time.Duration(attempt) * c.baseDelay
			slog.Warn("rate limited, backing off", "attempt", attempt, "delay", delay)
			c.Sleep(ctx, delay)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// isFatal reports whether an evaluation error should stop the whole run
// rather than skip one record. Connection and API failures are per record;
// if the endpoint is dead the round applies nothing and the loop in Run
// stops on its own. Only cancellation ends the batch early.
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
