// Package meter flushes per-account read-byte counters to the account
// store on an hourly timer, resetting them at the first flush of each new
// calendar month.
package meter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/account"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/metrics"
)

// AccountSource is the subset of *account.Cache the flusher depends on.
type AccountSource interface {
	All() map[string]*account.Account
}

// Updater is the subset of *mongo.Collection the flusher writes through,
// narrowed so tests can substitute a fake without a live Mongo instance.
type Updater interface {
	UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Flusher periodically upserts cap_usage into the account collection and
// clears in-memory counters at month rollover.
type Flusher struct {
	collection Updater
	accounts   AccountSource
	log        *slog.Logger

	mu          sync.Mutex
	recordMonth time.Month

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFlusher constructs a Flusher. now is the process's current time, used
// to record the month flushes started in.
func NewFlusher(collection Updater, accounts AccountSource, log *slog.Logger, now time.Time) *Flusher {
	return &Flusher{
		collection:  collection,
		accounts:    accounts,
		log:         log,
		recordMonth: now.Month(),
		stopCh:      make(chan struct{}),
	}
}

// Flush upserts every account's current cap_usage into the store. If now
// falls in a different calendar month than the last recorded flush, every
// account's in-memory counters are cleared first (month rollover) and the
// zeroed counters are what gets written.
func (f *Flusher) Flush(ctx context.Context, now time.Time) error {
	runID := uuid.New().String()

	f.mu.Lock()
	rollover := now.Month() != f.recordMonth
	if rollover {
		f.log.Info("meter: new month, resetting cap_usage", "run", runID, "month", now.Month())
		f.recordMonth = now.Month()
	}
	f.mu.Unlock()

	f.log.Debug("meter: flush starting", "run", runID, "accounts", len(f.accounts.All()))
	for id, acct := range f.accounts.All() {
		if rollover {
			acct.ResetUsage()
		}
		usage := acct.Snapshot()
		// On rollover the cleared counters still get written, so the store
		// doesn't keep last month's values until the next increment.
		if len(usage) == 0 && !rollover {
			continue
		}
		_, err := f.collection.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{"cap_usage": usage}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			f.log.Error("meter: flush failed", "run", runID, "account", id, "error", err)
			metrics.MeterFlushTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.MeterFlushTotal.WithLabelValues("success").Inc()
	}
	return nil
}

// Start launches a background goroutine that calls Flush every interval.
func (f *Flusher) Start(ctx context.Context, interval time.Duration) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			case <-ticker.C:
				_ = f.Flush(ctx, time.Now())
			}
		}
	}()
}

// Stop halts the background flush loop and waits for it to exit.
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}
