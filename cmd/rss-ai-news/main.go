package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Develata/rss-ai-news/internal/ai"
	"github.com/Develata/rss-ai-news/internal/config"
	"github.com/Develata/rss-ai-news/internal/pipeline"
	"github.com/Develata/rss-ai-news/internal/preview"
	"github.com/Develata/rss-ai-news/internal/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	closeLog   func() error
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rss-ai-news",
	Short:   "Feed harvesting, AI curation, and daily report publishing",
	Long:    "rss-ai-news harvests configured feeds, scores and summarizes new items with a completion model, and publishes daily per-category reports as one git commit.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logCfg := cfg.Logging
		if verbose {
			logCfg.Level = "DEBUG"
		}
		logger, closer := config.SetupLogger(logCfg)
		slog.SetDefault(logger)
		closeLog = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			closeLog()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("rss-ai-news", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/rss-ai-news/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, categories, and API credentials.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Store: %s\n\n", st.Path())
		fmt.Println("Records:")
		fmt.Printf("  Total: %d\n", stats.Total)
		fmt.Printf("  Curated: %d\n", stats.Processed)
		fmt.Printf("  Pending: %d\n", stats.Unprocessed)

		if len(stats.ByCategory) > 0 {
			fmt.Println("\nBy category:")
			keys := make([]string, 0, len(stats.ByCategory))
			for k := range stats.ByCategory {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s: %d\n", k, stats.ByCategory[k])
			}
		}
		return nil
	},
}

// --- ingest command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Harvest all sources and curate new records",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := ai.NewOpenAIClient(cfg.AI)
		if err != nil {
			return err
		}

		result, err := pipeline.New(cfg, st, client).RunIngest(context.Background())
		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			}
			if step.Summary != "" {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		return err
	},
}

// --- publish command ---

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Aggregate curated records into daily reports and push them",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := ai.NewOpenAIClient(cfg.AI)
		if err != nil {
			return err
		}

		published, err := pipeline.New(cfg, st, client).RunPublish(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Published %d report(s).\n", published)
		return nil
	},
}

// --- reset command ---

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all stored records",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if !resetForce {
			stats, err := st.GetStats()
			if err != nil {
				return err
			}
			fmt.Printf("This will delete all %d records from %s. Continue? [y/N]: ", stats.Total, st.Path())

			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.TrimSpace(strings.ToLower(answer))
			if answer != "y" && answer != "yes" {
				return fmt.Errorf("aborted")
			}
		}

		if err := st.Reset(); err != nil {
			return err
		}
		fmt.Println("Store reset.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip the confirmation prompt")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local report mirror for preview",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Starting preview at http://localhost:%d\n", servePort)
		fmt.Println("Press Ctrl+C to stop")
		return preview.Serve(cfg.ReportDir(), servePort)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run the preview server on")
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.StorePath())
}
