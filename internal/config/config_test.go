package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigParses(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("default config should parse: %v", err)
	}
	if len(cfg.Categories) == 0 {
		t.Fatal("default config should define categories")
	}
	if len(cfg.Sources()) == 0 {
		t.Fatal("default config should define sources")
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := parse([]byte(`
categories:
  - key: Tech
    prompt: "evaluate"
    sources:
      - name: Example
        url: https://example.com/feed.xml
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Harvest.Workers != 4 {
		t.Errorf("expected 4 harvest workers, got %d", cfg.Harvest.Workers)
	}
	if cfg.Harvest.WaitTimeoutSeconds != 300 {
		t.Errorf("expected 300s wait timeout, got %d", cfg.Harvest.WaitTimeoutSeconds)
	}
	if cfg.Curate.BatchSize != 50 || cfg.Curate.CommitEvery != 10 {
		t.Errorf("unexpected curate defaults: %+v", cfg.Curate)
	}
	if cfg.Report.WindowHours != 25 {
		t.Errorf("expected 25h report window, got %d", cfg.Report.WindowHours)
	}

	cat := cfg.Categories[0]
	if cat.DisplayName != "Tech" {
		t.Errorf("expected display name fallback to key, got %q", cat.DisplayName)
	}
	if cat.MaxInputChars != 2000 {
		t.Errorf("expected 2000 input chars default, got %d", cat.MaxInputChars)
	}
	if cat.Report.MaxItems != 10 || cat.Report.ExcerptMaxTitles != 15 {
		t.Errorf("unexpected report defaults: %+v", cat.Report)
	}
	if cat.Report.Folder != "Tech" || cat.Report.TitlePrefix != "Tech" {
		t.Errorf("unexpected report fallbacks: %+v", cat.Report)
	}
	if !cat.Report.BadgeEnabled() {
		t.Error("expected badge enabled by default")
	}
}

func TestParseRejectsDuplicateCategoryKeys(t *testing.T) {
	_, err := parse([]byte(`
categories:
  - key: Tech
  - key: Tech
`))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestSourcesResolvesJSONPrefix(t *testing.T) {
	cfg, err := parse([]byte(`
categories:
  - key: Headlines
    headline_only: true
    sources:
      - name: Board
        url: json|https://board.example.com/api/hot
      - name: Feed
        url: https://example.com/feed.xml
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sources := cfg.Sources()
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}

	board := sources[0]
	if board.Format != FormatJSONList {
		t.Error("expected json| URL to resolve to FormatJSONList")
	}
	if board.URL != "https://board.example.com/api/hot" {
		t.Errorf("expected prefix stripped from URL, got %q", board.URL)
	}
	if !board.HeadlineOnly {
		t.Error("expected headline flag to propagate from category")
	}

	if sources[1].Format != FormatFeed {
		t.Error("expected plain URL to stay FormatFeed")
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveConfigPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}

	if _, err := ResolveConfigPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestBadgeToggle(t *testing.T) {
	cfg, err := parse([]byte(`
categories:
  - key: Tech
    report:
      badge: false
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Categories[0].Report.BadgeEnabled() {
		t.Error("expected badge disabled when set to false")
	}
}
