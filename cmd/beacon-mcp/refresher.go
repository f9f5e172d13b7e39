package main

import (
	"context"
	"log"
	"sync"
	"time"

	beacon "github.com/matthewjhunter/beacon"
)

// refresher runs a background fetch loop over the registered feeds.
type refresher struct {
	engine   *beacon.Engine
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
}

func newRefresher(engine *beacon.Engine, interval time.Duration) *refresher {
	return &refresher{
		engine:   engine,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// start launches the background refresh loop. It refreshes immediately,
// then on each tick of the configured interval.
func (r *refresher) start(ctx context.Context) {
	go r.loop(ctx)
	log.Printf("refresher: started (interval=%s)", r.interval)
}

// stop signals the refresh loop to exit.
func (r *refresher) stop() {
	close(r.done)
	log.Printf("refresher: stopped")
}

// refresh runs a single fetch cycle. Exported for the refresh_now MCP tool.
func (r *refresher) refresh(ctx context.Context) (*beacon.FetchAllResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.engine.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	log.Printf("refresher: %d/%d feeds fetched, %d errors, %d new entries",
		result.FeedsFetched, result.FeedsTotal,
		result.FeedsErrored, result.EntriesAdded)

	return result, nil
}

func (r *refresher) loop(ctx context.Context) {
	if _, err := r.refresh(ctx); err != nil {
		log.Printf("refresher: initial refresh error: %v", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.refresh(ctx); err != nil {
				log.Printf("refresher: refresh error: %v", err)
			}
		}
	}
}
