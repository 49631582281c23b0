// Package pipeline orchestrates the two scheduler entry points: the ingest
// run (harvest + curate) and the publish run (aggregate + push + notify).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Develata/rss-ai-news/internal/ai"
	"github.com/Develata/rss-ai-news/internal/config"
	"github.com/Develata/rss-ai-news/internal/curate"
	"github.com/Develata/rss-ai-news/internal/extract"
	"github.com/Develata/rss-ai-news/internal/fetch"
	"github.com/Develata/rss-ai-news/internal/github"
	"github.com/Develata/rss-ai-news/internal/harvest"
	"github.com/Develata/rss-ai-news/internal/notify"
	"github.com/Develata/rss-ai-news/internal/report"
	"github.com/Develata/rss-ai-news/internal/store"
	"github.com/Develata/rss-ai-news/internal/strategy"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of one pipeline run.
type Result struct {
	Steps []StepResult
}

// Pipeline wires the stages over one store and one completion client.
type Pipeline struct {
	cfg    *config.Config
	store  *store.Store
	client ai.Client
}

// New creates a pipeline.
func New(cfg *config.Config, st *store.Store, client ai.Client) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, client: client}
}

// RunIngest harvests all sources, stages the fresh items, then curates
// everything unprocessed. Both phases are resilient to partial failure; the
// run only returns an error when neither phase produced any effect, so the
// scheduler can distinguish a quiet day from a broken one.
func (p *Pipeline) RunIngest(ctx context.Context) (*Result, error) {
	r := &Result{}

	committed, harvestStep := p.runHarvest(ctx)
	r.Steps = append(r.Steps, harvestStep)

	applied, curateStep := p.runCurate(ctx)
	r.Steps = append(r.Steps, curateStep)

	if committed == 0 && applied == 0 && (harvestStep.Err != nil || curateStep.Err != nil) {
		err := errors.New("ingest run produced no effect: harvesting and curation both failed")
		notify.New(p.cfg.Notify.WebhookURL).Send(ctx, "Ingest run failed", err.Error())
		return r, err
	}
	return r, nil
}

func (p *Pipeline) runHarvest(ctx context.Context) (int, StepResult) {
	slog.Info("step 1/2: harvesting sources")

	fetcher := fetch.New(p.cfg.Network.Proxy, time.Duration(p.cfg.Network.TimeoutSeconds)*time.Second)
	coordinator := harvest.NewCoordinator(extract.New(fetcher), p.cfg.Harvest)

	sources := p.cfg.Sources()
	cutoff := time.Now().UTC().Add(-time.Duration(p.cfg.Harvest.CutoffHours) * time.Hour)
	results := coordinator.Run(ctx, sources, cutoff)

	var items []extract.Item
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		items = append(items, res.Items...)
	}

	committed, err := harvest.NewStage(p.store, p.cfg.Harvest.BatchSize).Persist(items)
	step := StepResult{
		Name: "Harvest",
		Summary: fmt.Sprintf("%d/%d sources ok, %d items harvested, %d new records",
			len(results)-failed, len(sources), len(items), committed),
		Err: err,
	}
	if err == nil && failed == len(sources) && len(sources) > 0 {
		step.Err = errors.New("all sources failed")
	}
	return committed, step
}

func (p *Pipeline) runCurate(ctx context.Context) (int, StepResult) {
	slog.Info("step 2/2: curating unprocessed records")

	reg, err := strategy.NewRegistry(p.cfg.Categories)
	if err != nil {
		return 0, StepResult{Name: "Curate", Err: err}
	}

	curator := curate.New(p.store, p.client, reg, p.cfg.Curate, p.cfg.AI)
	applied, err := curator.Run(ctx)
	return applied, StepResult{
		Name:    "Curate",
		Summary: fmt.Sprintf("%d records curated", applied),
		Err:     err,
	}
}

// RunPublish aggregates the curated window into per-category documents,
// mirrors them locally, and pushes them as one commit. Publishing is
// all-or-nothing: any failure is fatal to the run. Zero documents is a
// successful no-op that touches nothing remote.
func (p *Pipeline) RunPublish(ctx context.Context) (int, error) {
	builder, err := report.NewBuilder(p.store, p.client, p.cfg.Report)
	if err != nil {
		return 0, err
	}

	units, titles, err := builder.Build(ctx, p.cfg.Categories)
	if err != nil {
		return 0, err
	}
	if len(units) == 0 {
		slog.Info("nothing to publish in the report window")
		return 0, nil
	}

	if err := report.WriteMirror(p.cfg.ReportDir(), units); err != nil {
		slog.Warn("local mirror write failed", "dir", p.cfg.ReportDir(), "error", err)
	} else {
		slog.Info("local mirror updated", "dir", p.cfg.ReportDir(), "files", len(units))
	}

	publisher, err := github.New(p.cfg.GitHub, time.Duration(p.cfg.Network.TimeoutSeconds)*time.Second)
	if err != nil {
		return 0, err
	}

	files := make([]github.File, 0, len(units))
	for _, u := range units {
		files = append(files, github.File{Path: u.Path, Content: u.Content})
	}

	now := time.Now().UTC()
	message := fmt.Sprintf("Bot Update: %s Report (%s)", now.Format("20060102"), strings.Join(titles, ", "))
	if err := publisher.Publish(ctx, files, message); err != nil {
		notify.New(p.cfg.Notify.WebhookURL).Send(ctx, "Report publish failed", err.Error())
		return 0, fmt.Errorf("publishing reports: %w", err)
	}

	p.notifyPublished(ctx, len(units))
	return len(units), nil
}

// notifyPublished sends the optional run summary with rolling 24h counts.
// Best-effort by contract; stats failures only degrade the message.
func (p *Pipeline) notifyPublished(ctx context.Context, published int) {
	created, err := p.store.CountCreatedSince(24 * time.Hour)
	if err != nil {
		slog.Warn("stats query failed", "error", err)
	}
	processed, err := p.store.CountProcessedSince(24 * time.Hour)
	if err != nil {
		slog.Warn("stats query failed", "error", err)
	}

	body := fmt.Sprintf("Published %d reports.\nLast 24h: %d items collected, %d curated.",
		published, created, processed)
	notify.New(p.cfg.Notify.WebhookURL).Send(ctx, "Daily report published", body)
}
