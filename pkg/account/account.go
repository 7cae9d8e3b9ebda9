// Package account maintains the process-wide cache of billing accounts used
// to verify JWTs, decide quota enforcement, and meter read bandwidth.
//
// The cache is a single atomically-swapped map: refreshes build a brand new
// map from a full scan of the account collection and then publish it in one
// pointer store, so readers on other goroutines never observe a half-built
// map and never block a refresh in progress.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/singleflight"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/metrics"
)

// MaxBytes is the monthly metered-read quota, in bytes, enforced against an
// account that cannot pay.
const MaxBytes = 100 * 1024 * 1024

// meteredCapability is currently the only capability subject to quota
// enforcement. See Open Question in DESIGN.md on whether this should come
// from a store-provided list instead.
const meteredCapability = "ros-tool"

// Account is the in-memory projection of one billing account document.
type Account struct {
	ID        string
	JWTSecret string
	CanPay    bool

	mu        sync.Mutex
	capUsage  map[string]int64
}

// stripeCustomer mirrors the subset of the billing provider's customer
// document the canPay rule depends on.
type stripeCustomer struct {
	InvoiceSettings struct {
		DefaultPaymentMethod string `bson:"default_payment_method"`
	} `bson:"invoice_settings"`
	Metadata struct {
		CollectionMethod string `bson:"collection_method"`
	} `bson:"metadata"`
	Delinquent bool `bson:"delinquent"`
}

// accountDoc is the BSON shape of one document in the accounts collection.
type accountDoc struct {
	ID             string          `bson:"_id"`
	JWTSecret      string          `bson:"jwtSecret"`
	Free           bool            `bson:"free"`
	StripeCustomer stripeCustomer  `bson:"stripeCustomer"`
	CapUsage       map[string]int64 `bson:"cap_usage"`
}

func canPay(d accountDoc) bool {
	hasPaymentMethod := d.StripeCustomer.InvoiceSettings.DefaultPaymentMethod != ""
	sendsInvoice := strings.HasPrefix(d.StripeCustomer.Metadata.CollectionMethod, "send_invoice")
	return d.Free || ((hasPaymentMethod || sendsInvoice) && !d.StripeCustomer.Delinquent)
}

func newAccount(d accountDoc) *Account {
	usage := make(map[string]int64, len(d.CapUsage))
	for k, v := range d.CapUsage {
		usage[k] = v
	}
	return &Account{
		ID:        d.ID,
		JWTSecret: d.JWTSecret,
		CanPay:    canPay(d),
		capUsage:  usage,
	}
}

// AddRead adds n bytes to the account's read meter for capability, returning
// the counter's new value and whether this read should be denied under
// quota enforcement (only ever true for the hard-coded metered capability
// on an account that cannot pay).
func (a *Account) AddRead(capability string, n int64) (total int64, quotaExceeded bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capUsage == nil {
		a.capUsage = make(map[string]int64)
	}
	a.capUsage[capability] += n
	total = a.capUsage[capability]
	quotaExceeded = !a.CanPay && capability == meteredCapability && total > MaxBytes
	return total, quotaExceeded
}

// Snapshot returns a copy of the account's current meter counters, for the
// periodic flush to serialize without holding the lock during I/O.
func (a *Account) Snapshot() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.capUsage))
	for k, v := range a.capUsage {
		out[k] = v
	}
	return out
}

// ResetUsage clears the account's meter counters, called at month rollover.
func (a *Account) ResetUsage() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capUsage = make(map[string]int64)
}

// Cache is the process-wide userId -> Account map, refreshed from Mongo on
// a timer and swapped in atomically.
type Cache struct {
	collection *mongo.Collection
	log        *slog.Logger

	accounts atomic.Pointer[map[string]*Account]

	// refreshGroup coalesces concurrent on-demand refreshes triggered by
	// JWT-verification cache misses so a burst of
	// connecting clients for unknown accounts only hits the store once.
	refreshGroup singleflight.Group

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCache constructs a Cache backed by the given collection. The cache
// starts empty; call Refresh (or Start) before serving traffic.
func NewCache(collection *mongo.Collection, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Cache{
		collection: collection,
		log:        log,
		stopCh:     make(chan struct{}),
	}
	empty := make(map[string]*Account)
	c.accounts.Store(&empty)
	return c
}

// Get returns the cached account for id, or nil if unknown.
func (c *Cache) Get(id string) *Account {
	m := *c.accounts.Load()
	return m[id]
}

// All returns the current account map, for the meter flush to range over.
func (c *Cache) All() map[string]*Account {
	return *c.accounts.Load()
}

// EnsureSecret resolves id's JWT secret for the basic-auth callback
// (authjwt.SecretLookup). On a cache miss, or when the cached account has
// no secret, it triggers a single coalesced Refresh and retries once; if
// the account is still missing it reports ok=false and the caller fails
// the authentication.
func (c *Cache) EnsureSecret(ctx context.Context, id string) (secret string, ok bool) {
	if acct := c.Get(id); acct != nil && acct.JWTSecret != "" {
		return acct.JWTSecret, true
	}

	// singleflight.Group.Do coalesces concurrent callers requesting a
	// refresh into one in-flight Refresh call; everyone blocked on the
	// "refresh" key observes its result.
	_, _, _ = c.refreshGroup.Do("refresh", func() (any, error) {
		return nil, c.Refresh(ctx)
	})

	acct := c.Get(id)
	if acct == nil || acct.JWTSecret == "" {
		return "", false
	}
	return acct.JWTSecret, true
}

// Refresh enumerates the accounts collection and atomically replaces the
// cached map. A failure to load the store is logged and leaves the existing
// cache untouched, per the account cache's documented failure mode.
func (c *Cache) Refresh(ctx context.Context) error {
	cur, err := c.collection.Find(ctx, bson.D{})
	if err != nil {
		c.log.Error("account refresh: find failed", "error", err)
		metrics.AccountRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("account: refresh: %w", err)
	}
	defer cur.Close(ctx)

	next := make(map[string]*Account)
	for cur.Next(ctx) {
		var doc accountDoc
		if err := cur.Decode(&doc); err != nil {
			c.log.Warn("account refresh: skipping malformed document", "error", err)
			continue
		}
		if doc.ID == "" {
			continue
		}
		// Preserve in-flight meter counters across a refresh rather than
		// resetting them to whatever was last flushed to the store.
		if existing, ok := (*c.accounts.Load())[doc.ID]; ok {
			acct := newAccount(doc)
			acct.capUsage = existing.Snapshot()
			next[doc.ID] = acct
			continue
		}
		next[doc.ID] = newAccount(doc)
	}
	if err := cur.Err(); err != nil {
		c.log.Error("account refresh: cursor error", "error", err)
		metrics.AccountRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("account: refresh cursor: %w", err)
	}

	c.accounts.Store(&next)
	c.log.Debug("account cache refreshed", "count", len(next))
	metrics.AccountRefreshTotal.WithLabelValues("success").Inc()
	return nil
}

// Start launches a background goroutine that calls Refresh every interval
// until Stop is called or ctx is done.
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				_ = c.Refresh(ctx)
			}
		}
	}()
}

// Stop halts the background refresh loop and waits for it to exit.
func (c *Cache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}
