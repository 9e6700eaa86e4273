package replay

import (
	"context"
	"log/slog"
	"time"
)

// DefaultEvictionInterval is how often the periodic eviction runs.
const DefaultEvictionInterval = time.Minute

// RunPeriodicEviction runs EvictExpired at the given interval until the stop
// channel is closed. This function blocks and should typically be run in a
// goroutine.
func RunPeriodicEviction(cache Cache, interval time.Duration, stopCh <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	evict := func() {
		evicted, err := cache.EvictExpired(context.Background())
		if err != nil {
			slog.Error("replay cache eviction failed", "error", err)
			return
		}
		if evicted > 0 {
			slog.Info("evicted expired replay entries", "evicted", evicted)
		}
	}

	// Run once immediately on start
	evict()

	for {
		select {
		case <-ticker.C:
			evict()
		case <-stopCh:
			slog.Info("stopping replay cache eviction")
			return
		}
	}
}
