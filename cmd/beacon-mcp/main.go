// beacon-mcp is a standalone MCP server for the Beacon feed engine. It
// connects directly to Beacon's Postgres database, serving feed and
// semantic-search tools over JSON-RPC stdio.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	beacon "github.com/matthewjhunter/beacon"
	"github.com/matthewjhunter/beacon/internal/storage"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "path to beacon config file")
	refresh := flag.Bool("refresh", false, "refresh all registered feeds in the background")
	interval := flag.Duration("interval", time.Hour, "refresh interval when no feed configures one")
	flag.Parse()

	cfg := storage.DefaultConfig()
	if data, err := os.ReadFile(*configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Fatalf("parse config %s: %v", *configPath, err)
		}
	}

	ctx := context.Background()
	engine, err := beacon.NewEngine(ctx, beacon.EngineConfig{
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
	if err != nil {
		log.Fatalf("create beacon engine: %v", err)
	}
	defer engine.Close()

	srv := newServer(engine)
	if *refresh {
		srv.refresher = newRefresher(engine, engine.RefreshInterval(*interval))
		srv.refresher.start(ctx)
		defer srv.refresher.stop()
	}

	if err := srv.run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
