// Package report aggregates curated records into per-category markdown
// documents ready for publishing.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Develata/rss-ai-news/internal/ai"
	"github.com/Develata/rss-ai-news/internal/config"
	"github.com/Develata/rss-ai-news/internal/store"
	"github.com/Develata/rss-ai-news/internal/strategy"
)

const (
	excerptTemperature = 0.5
	excerptInputChars  = 4000
	excerptFallback    = "Today's highlights at a glance."
	noSummary          = "No summary available."
)

// Unit is one renderable document with its repository-relative path.
type Unit struct {
	Path    string
	Content string
}

// Builder selects curated records within the report window and renders one
// document per non-empty category.
type Builder struct {
	store  *store.Store
	client ai.Client
	window time.Duration
	loc    *time.Location

	// Now is the clock, replaced in tests for stable dates.
	Now func() time.Time
}

// NewBuilder builds a report Builder; the configured timezone names the
// location used for report dates and file names.
func NewBuilder(st *store.Store, client ai.Client, cfg config.Report) (*Builder, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading report timezone %q: %w", cfg.Timezone, err)
	}
	return &Builder{
		store:  st,
		client: client,
		window: time.Duration(cfg.WindowHours) * time.Hour,
		loc:    loc,
		Now:    time.Now,
	}, nil
}

// Build renders documents for every category with curated records in the
// window, in configured category order. It returns the units and the title
// prefixes of the generated documents, for the commit message.
func (b *Builder) Build(ctx context.Context, categories []config.Category) ([]Unit, []string, error) {
	keys := make([]string, 0, len(categories))
	for _, cat := range categories {
		keys = append(keys, cat.Key)
	}

	records, err := b.store.ProcessedWithin(b.window, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("selecting curated records: %w", err)
	}

	byCategory := make(map[string][]store.Record)
	for _, r := range records {
		byCategory[r.Category] = append(byCategory[r.Category], r)
	}

	now := b.Now().In(b.loc)
	var units []Unit
	var titles []string
	for _, cat := range categories {
		group := byCategory[cat.Key]
		if len(group) > cat.Report.MaxItems {
			group = group[:cat.Report.MaxItems]
		}
		if len(group) == 0 {
			slog.Info("report skipped, no curated items", "category", cat.Key)
			continue
		}

		slog.Info("rendering report", "category", cat.Key, "items", len(group))
		content := b.render(ctx, group, cat, now)
		path := fmt.Sprintf("%s/%d/%s.md", cat.Report.Folder, now.Year(), now.Format("20060102"))
		units = append(units, Unit{Path: path, Content: content})
		titles = append(titles, cat.Report.TitlePrefix)
	}

	return units, titles, nil
}

// excerpt asks the model for a short editorial lead over the group's titles.
// Any failure or empty answer falls back to a fixed placeholder; reports are
// never blocked on the excerpt.
func (b *Builder) excerpt(ctx context.Context, group []store.Record, cat config.Category) string {
	n := min(len(group), cat.Report.ExcerptMaxTitles)
	lines := make([]string, 0, n)
	for _, r := range group[:n] {
		lines = append(lines, "- "+r.Title)
	}
	user := strategy.Truncate(strings.Join(lines, "\n"), excerptInputChars)

	system := strings.TrimSpace(cat.Report.ExcerptPrompt)
	if system == "" {
		system = fmt.Sprintf(
			"You are a tech news editor. Given the headline list for the %q section, write a short daily-report lead. Professional and neutral tone, at most 80 words.",
			cat.Report.TitlePrefix)
	}

	text, err := b.client.Complete(ctx, system, user, excerptTemperature)
	if err != nil {
		slog.Warn("excerpt generation failed", "category", cat.Key, "error", err)
		return excerptFallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return excerptFallback
	}
	return strings.NewReplacer(`"`, "", "'", "").Replace(text)
}

func (b *Builder) render(ctx context.Context, group []store.Record, cat config.Category, now time.Time) string {
	dateStr := fmt.Sprintf("%d-%d-%d", now.Year(), now.Month(), now.Day())
	excerpt := b.excerpt(ctx, group, cat)

	rawTitle := cat.Report.TitlePrefix + " " + dateStr
	safeTitle := strings.TrimSpace(strings.ReplaceAll(rawTitle, `"`, `\"`))
	safeExcerpt := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(excerpt, `"`, `\"`), "\n", " "))

	var md []string
	md = append(md,
		"---",
		`title: "`+safeTitle+`"`,
		"date: "+dateStr,
		`excerpt: "`+safeExcerpt+`"`,
		"---",
		"",
		"# "+safeTitle+"\n",
		"> "+excerpt+"\n",
	)

	badge := cat.Report.BadgeEnabled()
	for _, r := range group {
		title := strings.TrimSpace(strings.NewReplacer("|", "-", "[", "(", "]", ")").Replace(r.Title))

		if badge {
			md = append(md, fmt.Sprintf("## %s <Badge type=\"tip\" text=\"%d\" />\n", title, r.Score))
		} else {
			md = append(md, "## "+title+"\n")
		}

		if tags := tagLine(r.Tags); tags != "" {
			md = append(md, "- **Tags:** "+tags+"\n")
		}
		md = append(md, fmt.Sprintf("- **Source:** `%s` | [Read more](%s)\n", r.Source, r.Link))

		summary := r.Summary
		if summary == "" {
			summary = noSummary
		}
		md = append(md, "> "+summary+"\n\n", "---\n")
	}

	return strings.Join(md, "\n")
}

func tagLine(tags string) string {
	var b strings.Builder
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			b.WriteString("`" + t + "` ")
		}
	}
	return strings.TrimSpace(b.String())
}

// WriteMirror writes units under dir with their repository-relative paths.
// Callers treat a failure here as a warning only.
func WriteMirror(dir string, units []Unit) error {
	for _, u := range units {
		rel := strings.TrimLeft(u.Path, "/\\")
		out := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(out, []byte(u.Content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
