package memory

import (
	"context"
	"log"
	"time"
)

// StartJanitor purges expired short-term memories every interval until ctx is
// cancelled. onPurge, if non-nil, is called with the number of rows removed
// on each successful pass.
func StartJanitor(ctx context.Context, store Store, interval time.Duration, onPurge func(int)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.PurgeExpiredShortTermMemories(ctx)
				if err != nil {
					log.Printf("memory janitor: purge failed: %v", err)
					continue
				}
				if removed > 0 {
					log.Printf("memory janitor: purged %d expired short-term memories", removed)
				}
				if onPurge != nil {
					onPurge(removed)
				}
			}
		}
	}()
}
