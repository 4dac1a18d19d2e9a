package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// retentionWidths is how many bucket-widths of history the janitor keeps
// around past the current bucket, per spec §4.8.
const retentionWidths = 5

// Janitor periodically evicts aged-out buckets from an Aggregator so memory
// stays bounded regardless of how long the process runs. Ticker-driven
// background sweep with context-cancelled shutdown, the same shape as the
// teacher pack's other aggregation janitors.
type Janitor struct {
	agg      *Aggregator
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor builds a Janitor that sweeps agg every interval once started.
func NewJanitor(agg *Aggregator, interval time.Duration) *Janitor {
	return &Janitor{agg: agg, interval: interval}
}

// Start launches the sweep loop. Safe to call once; call Stop to shut down.
func (j *Janitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	j.wg.Add(1)
	go j.run(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := j.agg.evictOlderThan(time.Now(), retentionWidths)
			if n > 0 {
				log.Debug().Int("evicted", n).Msg("aggregator: evicted aged buckets")
			}
		}
	}
}
