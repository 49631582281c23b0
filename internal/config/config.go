package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// jsonListPrefix marks a source URL as a JSON-list endpoint rather than a feed.
const jsonListPrefix = "json|"

type Config struct {
	Store      Store      `yaml:"store"`
	Network    Network    `yaml:"network"`
	AI         AI         `yaml:"ai"`
	GitHub     GitHub     `yaml:"github"`
	Notify     Notify     `yaml:"notify"`
	Harvest    Harvest    `yaml:"harvest"`
	Curate     Curate     `yaml:"curate"`
	Report     Report     `yaml:"report"`
	Logging    Logging    `yaml:"logging"`
	Categories []Category `yaml:"categories"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Network struct {
	Proxy          string `yaml:"proxy"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AI struct {
	APIKeyEnv        string  `yaml:"api_key_env"`
	BaseURL          string  `yaml:"base_url"`
	Model            string  `yaml:"model"`
	MaxWorkers       int     `yaml:"max_workers"`
	BaseDelaySeconds float64 `yaml:"base_delay_seconds"`
	MaxRetries       int     `yaml:"max_retries"`
}

type GitHub struct {
	TokenEnv     string `yaml:"token_env"`
	Repo         string `yaml:"repo"`
	TargetFolder string `yaml:"target_folder"`
	APIBase      string `yaml:"api_base"`
}

type Notify struct {
	WebhookURL string `yaml:"webhook_url"`
}

type Harvest struct {
	Workers            int `yaml:"workers"`
	WaitTimeoutSeconds int `yaml:"wait_timeout_seconds"`
	CutoffHours        int `yaml:"cutoff_hours"`
	BatchSize          int `yaml:"batch_size"`
}

type Curate struct {
	BatchSize   int `yaml:"batch_size"`
	CommitEvery int `yaml:"commit_every"`
}

type Report struct {
	LocalDir    string `yaml:"local_dir"`
	WindowHours int    `yaml:"window_hours"`
	Timezone    string `yaml:"timezone"`
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Category bundles everything configured for one content category: where its
// items come from, how the curator evaluates them, and how its daily report
// is rendered.
type Category struct {
	Key           string       `yaml:"key"`
	DisplayName   string       `yaml:"display_name"`
	HeadlineOnly  bool         `yaml:"headline_only"`
	Prompt        string       `yaml:"prompt"`
	MaxInputChars int          `yaml:"max_input_chars"`
	Sources       []SourceRef  `yaml:"sources"`
	Report        ReportConfig `yaml:"report"`
}

type SourceRef struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type ReportConfig struct {
	TitlePrefix      string `yaml:"title_prefix"`
	Folder           string `yaml:"folder"`
	MaxItems         int    `yaml:"max_items"`
	ExcerptMaxTitles int    `yaml:"excerpt_max_titles"`
	ExcerptPrompt    string `yaml:"excerpt_prompt"`
	Badge            *bool  `yaml:"badge"`
}

// BadgeEnabled reports whether the score badge is rendered. Unset means true.
func (r ReportConfig) BadgeEnabled() bool {
	return r.Badge == nil || *r.Badge
}

// SourceFormat distinguishes structured feeds from JSON-list endpoints.
type SourceFormat int

const (
	FormatFeed SourceFormat = iota
	FormatJSONList
)

// Source is one resolved fetch target, static for a run.
type Source struct {
	Category     string
	Name         string
	URL          string
	Format       SourceFormat
	HeadlineOnly bool
}

// Sources flattens the category configuration into the run's fetch targets,
// resolving the json| URL prefix into an explicit format.
func (c *Config) Sources() []Source {
	var out []Source
	for _, cat := range c.Categories {
		for _, ref := range cat.Sources {
			s := Source{
				Category:     cat.Key,
				Name:         ref.Name,
				URL:          ref.URL,
				Format:       FormatFeed,
				HeadlineOnly: cat.HeadlineOnly,
			}
			if rest, ok := strings.CutPrefix(ref.URL, jsonListPrefix); ok {
				s.URL = rest
				s.Format = FormatJSONList
			}
			out = append(out, s)
		}
	}
	return out
}

// Category returns the category config for a key, or nil if unknown.
func (c *Config) Category(key string) *Category {
	for i := range c.Categories {
		if c.Categories[i].Key == key {
			return &c.Categories[i]
		}
	}
	return nil
}

// ConfigDir returns the XDG config directory for rss-ai-news.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "rss-ai-news")
}

// DataDir returns the XDG data directory for rss-ai-news.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "rss-ai-news")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/rss-ai-news/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'rss-ai-news init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Network: Network{TimeoutSeconds: 20},
		AI: AI{
			APIKeyEnv:        "AI_API_KEY",
			Model:            "gpt-4o-mini",
			MaxWorkers:       1,
			BaseDelaySeconds: 12,
			MaxRetries:       3,
		},
		GitHub: GitHub{TokenEnv: "GITHUB_TOKEN"},
		Harvest: Harvest{
			Workers:            4,
			WaitTimeoutSeconds: 300,
			CutoffHours:        48,
			BatchSize:          100,
		},
		Curate:  Curate{BatchSize: 50, CommitEvery: 10},
		Report:  Report{WindowHours: 25, Timezone: "UTC"},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Categories))
	for i := range cfg.Categories {
		cat := &cfg.Categories[i]
		if cat.Key == "" {
			return nil, fmt.Errorf("category %d: key is required", i)
		}
		if _, dup := seen[cat.Key]; dup {
			return nil, fmt.Errorf("duplicate category key %q", cat.Key)
		}
		seen[cat.Key] = struct{}{}

		if cat.DisplayName == "" {
			cat.DisplayName = cat.Key
		}
		if cat.MaxInputChars <= 0 {
			cat.MaxInputChars = 2000
		}
		if cat.Report.MaxItems <= 0 {
			cat.Report.MaxItems = 10
		}
		if cat.Report.ExcerptMaxTitles <= 0 {
			cat.Report.ExcerptMaxTitles = 15
		}
		if cat.Report.TitlePrefix == "" {
			cat.Report.TitlePrefix = cat.DisplayName
		}
		if cat.Report.Folder == "" {
			cat.Report.Folder = cat.Key
		}
	}

	return cfg, nil
}

// StorePath returns the effective database path from config or XDG default.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(DataDir(), "rss-ai-news.db")
}

// ReportDir returns the effective local mirror directory.
func (c *Config) ReportDir() string {
	if c.Report.LocalDir != "" {
		return c.Report.LocalDir
	}
	return filepath.Join(DataDir(), "reports")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
