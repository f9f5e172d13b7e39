package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	beacon "github.com/matthewjhunter/beacon"
	"github.com/matthewjhunter/beacon/internal/output"
	"github.com/matthewjhunter/beacon/internal/registry"
	"github.com/matthewjhunter/beacon/internal/storage"
)

var (
	configPath   string
	cfg          *storage.Config
	outputFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "beacon",
		Short: "Semantic RSS/Atom feed reader - ingest feeds into Postgres and search them by meaning",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "output format: json, text, human (default: json)")

	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(feedsCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(categoriesCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(initConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	// Check if config exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Use default config
		cfg = storage.DefaultConfig()
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg = storage.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return nil
}

func newEngine(ctx context.Context) (*beacon.Engine, error) {
	return beacon.NewEngine(ctx, beacon.EngineConfig{
		DatabaseURL:       cfg.Database.URL,
		OllamaBaseURL:     cfg.Ollama.BaseURL,
		EmbeddingModel:    cfg.Ollama.EmbeddingModel,
		RegistryPath:      cfg.RSS.FeedsFile,
		MaxEntriesPerFeed: cfg.RSS.MaxEntriesPerFeed,
		MaxAgeHours:       cfg.RSS.MaxAgeHours,
		RejectUndated:     cfg.RSS.RejectUndated,
		EfSearch:          cfg.Search.EfSearch,
		Overfetch:         cfg.Search.Overfetch,
	})
}

func fetchCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "fetch [feed-url]",
		Short: "Fetch a feed (or all registered feeds with --all) and store new entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("provide a feed URL or --all")
			}

			ctx := context.Background()
			formatter := output.NewFormatter(output.Format(outputFormat))

			eng, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if all {
				result, err := eng.FetchAll(ctx)
				if err != nil {
					return err
				}
				return formatter.OutputFetchAllResult(result)
			}

			result, err := eng.FetchFeed(ctx, args[0])
			if err != nil {
				return err
			}
			return formatter.OutputFetchResult(result)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "fetch every registered feed")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int
	var window, sortBy string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored entries by meaning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			formatter := output.NewFormatter(output.Format(outputFormat))

			eng, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.Search(ctx, args[0], beacon.SearchOptions{
				Limit:      limit,
				TimeFilter: window,
				SortBy:     sortBy,
			})
			if err != nil {
				return err
			}
			return formatter.OutputSearchResult(result)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max results (default: 5)")
	cmd.Flags().StringVarP(&window, "window", "w", "", "time filter: 24h, week, month")
	cmd.Flags().StringVarP(&sortBy, "sort", "s", "", "sort mode: relevance, recent, combined")
	return cmd
}

func feedsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List all stored feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			formatter := output.NewFormatter(output.Format(outputFormat))

			eng, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			feeds, err := eng.ListFeeds(ctx)
			if err != nil {
				return err
			}
			return formatter.OutputFeedList(feeds)
		},
	}
}

func feedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feed <id>",
		Short: "Show one feed with its entries bucketed by age",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid feed ID %q", args[0])
			}

			ctx := context.Background()
			formatter := output.NewFormatter(output.Format(outputFormat))

			eng, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			details, err := eng.GetFeedDetails(ctx, feedID)
			if err != nil {
				return err
			}
			return formatter.OutputFeedDetails(details)
		},
	}
}

// Registry commands read the feeds file directly so they work without a
// database connection.

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List registered feed categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))

			reg, err := registry.Load(cfg.RSS.FeedsFile)
			if err != nil {
				return err
			}
			return formatter.OutputCategories(reg.Categories())
		},
	}
}

func categoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "category <name>",
		Short: "List the registered feeds in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))

			reg, err := registry.Load(cfg.RSS.FeedsFile)
			if err != nil {
				return err
			}
			var feeds []beacon.CategoryFeed
			for _, fd := range reg.FeedsIn(args[0]) {
				feeds = append(feeds, beacon.CategoryFeed{Name: fd.Name, URL: fd.URL})
			}
			return formatter.OutputCategoryFeeds(args[0], feeds)
		},
	}
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <category> <name> <feed-url>",
		Short: "Register a feed under a category",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(cfg.RSS.FeedsFile)
			if err != nil {
				return err
			}
			if err := reg.Add(args[0], registry.FeedDescriptor{Name: args[1], URL: args[2]}); err != nil {
				return err
			}
			if err := reg.Save(cfg.RSS.FeedsFile); err != nil {
				return err
			}
			fmt.Printf("Registered %s under %s\n", args[2], args[0])
			return nil
		},
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = "./config/config.yaml"
			}

			// Create config directory
			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			// Check if config already exists
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists: %s", configPath)
			}

			// Write default config
			cfg := storage.DefaultConfig()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			if err := os.WriteFile(configPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Printf("Created default config at %s\n", configPath)
			return nil
		},
	}
}
