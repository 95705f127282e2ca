package credits

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/yaman-694/ui-analyser/internal/metrics"
)

const (
	defaultFlushInterval = 10 * time.Second

	// maxFlushAttempts caps how often a failed pending write is retried
	// before it is dropped, so a persistently failing store cannot grow an
	// unbounded backlog.
	maxFlushAttempts = 3
)

// Flusher periodically drains the ledger's pending balance writes into the
// store, one store update per user per cycle. Entries for the same user are
// already coalesced to their latest value by the pending set.
//
// The flusher is an explicit component with its own lifecycle: construct it
// next to the Ledger, Start it once the process is ready and Stop it during
// shutdown. Stop performs one final drain so a clean shutdown loses nothing.
type Flusher struct {
	ledger   *Ledger
	interval time.Duration
	log      zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewFlusher creates a Flusher draining the given ledger's pending writes
// every interval. A non-positive interval falls back to the default.
func NewFlusher(ledger *Ledger, interval time.Duration, logger zerolog.Logger) *Flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Flusher{
		ledger:   ledger,
		interval: interval,
		log:      logger.With().Str("component", "flusher").Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (f *Flusher) Start() {
	go f.run()
}

// Stop halts the loop after one final drain and waits for it to exit.
func (f *Flusher) Stop() {
	close(f.stopCh)
	<-f.doneCh
}

func (f *Flusher) run() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.log.Info().Dur("interval", f.interval).Msg("flusher started")

	for {
		select {
		case <-ticker.C:
			f.FlushOnce(context.Background())
		case <-f.stopCh:
			f.FlushOnce(context.Background())
			f.log.Info().Msg("flusher stopped")
			return
		}
	}
}

// FlushOnce drains the current pending set in one batch. The set is swapped
// for an empty one up front, so writes arriving mid-flush accumulate for the
// next cycle instead of blocking.
//
// Individual failures never stop the batch. A failed entry is re-queued for
// the next cycle unless a newer balance superseded it or it already hit the
// retry cap, in which case it is dropped and logged.
func (f *Flusher) FlushOnce(ctx context.Context) {
	batch := f.ledger.pending.swap()
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	failed := 0

	for userID, entry := range batch {
		sctx, cancel := context.WithTimeout(ctx, f.ledger.storeTimeout)
		err := f.ledger.store.SaveBalance(sctx, userID, entry.balance)
		cancel()
		if err == nil {
			continue
		}

		failed++
		metrics.FlushFailures.Inc()

		// An account that vanished from the store will not reappear;
		// retrying only defers the same failure.
		if errors.Is(err, ErrNotFound) {
			f.log.Error().
				Str("user_id", userID).
				Int64("balance", entry.balance).
				Msg("dropping pending write for missing account")
			continue
		}

		entry.attempts++
		if entry.attempts >= maxFlushAttempts {
			f.log.Error().Err(err).
				Str("user_id", userID).
				Int64("balance", entry.balance).
				Int("attempts", entry.attempts).
				Msg("dropping pending write after repeated store failures")
			continue
		}

		if f.ledger.pending.requeue(userID, entry) {
			f.log.Warn().Err(err).
				Str("user_id", userID).
				Int("attempts", entry.attempts).
				Msg("store write failed, re-queued for next flush")
		} else {
			f.log.Debug().
				Str("user_id", userID).
				Msg("failed pending write superseded by newer balance")
		}
	}

	metrics.FlushBatches.Inc()
	f.log.Debug().
		Int("entries", len(batch)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("flush cycle complete")
}
