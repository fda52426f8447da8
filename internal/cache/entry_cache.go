// Package cache maintains a bounded, TTL-based cache of decrypted
// per-owner entry sets in front of the storage engine.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/metrics"
	"github.com/avoronov/diary-vault/internal/model"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// Store is the durable layer behind the cache. Implemented by
// *sqlite.Store.
type Store interface {
	UpsertEntry(ctx context.Context, owner int64, date string, fields model.EntryFields) error
	ReadEntries(ctx context.Context, owner int64, rng model.DateRange) (model.EntryList, error)
	DeleteEntry(ctx context.Context, owner int64, date string) error
	DeleteAllEntries(ctx context.Context, owner int64) error
}

// Config bounds the cache. MaxOwners bounds memory, TTL bounds the
// staleness of a rarely-evicted slot.
type Config struct {
	MaxOwners int
	TTL       time.Duration

	// WriteThrough persists every write synchronously. This is the
	// default policy: losing a diary entry to a crash is unacceptable.
	// With it disabled, dirty slots flush on eviction, sweep and Close.
	WriteThrough bool
}

// DefaultConfig returns the production cache policy.
func DefaultConfig() Config {
	return Config{MaxOwners: 128, TTL: 30 * time.Minute, WriteThrough: true}
}

// slot holds one owner's decrypted entries, newest first. A slot's
// contents belong exclusively to the cache while held; eviction or
// flush transfers authority back to the store.
type slot struct {
	entries    []model.Entry
	skipped    int
	lastAccess time.Time
	dirty      bool
}

// Cache is the write-back entry cache. One mutex guards every slot
// transition; operations that cross into the store acquire the cache
// lock first, store lock second.
type Cache struct {
	mu      sync.Mutex
	slots   map[int64]*slot
	store   Store
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Collector
}

// New constructs a Cache over the given store.
func New(store Store, cfg Config, log *zap.Logger, m *metrics.Collector) *Cache {
	if cfg.MaxOwners <= 0 {
		cfg.MaxOwners = DefaultConfig().MaxOwners
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Cache{
		slots:   make(map[int64]*slot),
		store:   store,
		cfg:     cfg,
		log:     log,
		metrics: m,
	}
}

// GetEntries returns the owner's entries, newest first, optionally
// bounded by rng. A live slot is served from memory and refreshes its
// last access; otherwise the full set is loaded from the store and a
// new slot is populated, evicting the least recently used slot first
// when the cache is at capacity.
func (c *Cache) GetEntries(ctx context.Context, owner int64, rng model.DateRange) (model.EntryList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[owner]
	if ok {
		if timeNow().Sub(sl.lastAccess) < c.cfg.TTL {
			c.metrics.CacheHit()
			sl.lastAccess = timeNow()
			return filterRange(sl, rng), nil
		}
		// An expired dirty slot must reach the store before it is
		// replaced. If the flush fails the slot holds the only copy of
		// its writes, so serve it as-is instead of reloading over it.
		if err := c.flushSlotLocked(ctx, owner, sl); err != nil {
			c.log.Error("expired slot flush failed, serving cached copy",
				zap.Int64("owner", owner), zap.Error(err))
			c.metrics.CacheHit()
			sl.lastAccess = timeNow()
			return filterRange(sl, rng), nil
		}
	}
	c.metrics.CacheMiss()

	sl, err := c.loadLocked(ctx, owner)
	if err != nil {
		return model.EntryList{}, err
	}
	return filterRange(sl, rng), nil
}

// SaveEntry applies the write to the in-memory slot immediately, so a
// read in the same session sees it, and marks the slot dirty. Under
// write-through the entry is also persisted before returning; on a
// store fault the slot stays dirty and the write is retried on the
// next flush.
func (c *Cache) SaveEntry(ctx context.Context, owner int64, date string, fields model.EntryFields) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[owner]
	if !ok {
		if c.cfg.WriteThrough {
			// No slot to retain: persist directly, next read loads fresh.
			return c.store.UpsertEntry(ctx, owner, date, fields)
		}
		var err error
		if sl, err = c.loadLocked(ctx, owner); err != nil {
			return err
		}
	}

	applyWrite(sl, model.Entry{Owner: owner, Date: date, Fields: fields, CreatedAt: timeNow()})
	sl.dirty = true
	sl.lastAccess = timeNow()

	if c.cfg.WriteThrough {
		if err := c.store.UpsertEntry(ctx, owner, date, fields); err != nil {
			return err
		}
		sl.dirty = false
	}
	return nil
}

// DeleteEntry removes one entry from the store and from any slot for
// the owner inside the same critical section, so a concurrent read
// cannot repopulate the deleted row from stale cache state. The store
// goes first: on a store fault the slot keeps the entry, and a missing
// row is fine when the entry only ever lived in a dirty slot.
func (c *Cache) DeleteEntry(ctx context.Context, owner int64, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[owner]
	idx := -1
	if ok {
		for i := range sl.entries {
			if sl.entries[i].Date == date {
				idx = i
				break
			}
		}
	}

	if err := c.store.DeleteEntry(ctx, owner, date); err != nil {
		if idx < 0 || !errors.Is(err, errs.ErrNotFound) {
			return err
		}
	}
	if idx >= 0 {
		sl.entries = append(sl.entries[:idx], sl.entries[idx+1:]...)
	}
	return nil
}

// DeleteAll removes every entry of the owner and drops the slot
// atomically with the store delete.
func (c *Cache) DeleteAll(ctx context.Context, owner int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.slots, owner)
	return c.store.DeleteAllEntries(ctx, owner)
}

// Flush re-encrypts and writes the owner's dirty slot through to the
// store, then clears the dirty flag. A clean or absent slot is a no-op.
func (c *Cache) Flush(ctx context.Context, owner int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[owner]
	if !ok {
		return nil
	}
	return c.flushSlotLocked(ctx, owner, sl)
}

// FlushAll flushes every dirty slot; the first error aborts.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for owner, sl := range c.slots {
		if err := c.flushSlotLocked(ctx, owner, sl); err != nil {
			return err
		}
	}
	return nil
}

// Sweep evicts TTL-expired slots, flushing dirty ones first. It is safe
// to run concurrently with ordinary reads and writes: it takes the same
// lock as any other mutator.
func (c *Cache) Sweep(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := timeNow()
	for owner, sl := range c.slots {
		if now.Sub(sl.lastAccess) < c.cfg.TTL {
			continue
		}
		if err := c.evictLocked(ctx, owner, sl); err != nil {
			c.log.Error("sweep: keeping dirty slot, flush failed",
				zap.Int64("owner", owner), zap.Error(err))
		}
	}
}

// RunSweeper runs Sweep on a fixed interval until ctx is cancelled.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info("cache sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			c.log.Info("cache sweeper stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Close flushes all dirty slots. Called on shutdown.
func (c *Cache) Close(ctx context.Context) error { return c.FlushAll(ctx) }

// Len reports the current slot count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// loadLocked populates a fresh slot from the store, evicting the least
// recently used slot first if at capacity. Caller holds c.mu.
func (c *Cache) loadLocked(ctx context.Context, owner int64) (*slot, error) {
	list, err := c.store.ReadEntries(ctx, owner, model.DateRange{})
	if err != nil {
		return nil, err
	}
	if _, ok := c.slots[owner]; !ok && len(c.slots) >= c.cfg.MaxOwners {
		c.evictOldestLocked(ctx)
	}
	sl := &slot{
		entries:    list.Entries,
		skipped:    list.Skipped,
		lastAccess: timeNow(),
	}
	c.slots[owner] = sl
	return sl, nil
}

// evictOldestLocked evicts the slot with the oldest last access.
func (c *Cache) evictOldestLocked(ctx context.Context) {
	var (
		victim   int64
		victimSl *slot
	)
	for owner, sl := range c.slots {
		if victimSl == nil || sl.lastAccess.Before(victimSl.lastAccess) {
			victim, victimSl = owner, sl
		}
	}
	if victimSl == nil {
		return
	}
	if err := c.evictLocked(ctx, victim, victimSl); err != nil {
		// A dirty slot that cannot flush must not be discarded; the
		// cache runs over capacity until the store recovers.
		c.log.Error("eviction: keeping dirty slot, flush failed",
			zap.Int64("owner", victim), zap.Error(err))
	}
}

// evictLocked flushes a dirty slot and removes it. Evicting a dirty
// slot without flushing would be a durability bug, so a flush failure
// keeps the slot in place and returns the error.
func (c *Cache) evictLocked(ctx context.Context, owner int64, sl *slot) error {
	if err := c.flushSlotLocked(ctx, owner, sl); err != nil {
		return err
	}
	delete(c.slots, owner)
	c.metrics.CacheEviction()
	return nil
}

func (c *Cache) flushSlotLocked(ctx context.Context, owner int64, sl *slot) error {
	if !sl.dirty {
		return nil
	}
	for _, e := range sl.entries {
		if err := c.store.UpsertEntry(ctx, owner, e.Date, e.Fields); err != nil {
			return fmt.Errorf("flush owner %d: %w", owner, err)
		}
	}
	sl.dirty = false
	c.metrics.CacheFlush()
	return nil
}

// applyWrite inserts or replaces the entry keeping newest-first order.
func applyWrite(sl *slot, e model.Entry) {
	for i := range sl.entries {
		if sl.entries[i].Date == e.Date {
			e.CreatedAt = sl.entries[i].CreatedAt
			sl.entries[i] = e
			return
		}
	}
	sl.entries = append(sl.entries, e)
	sort.Slice(sl.entries, func(i, j int) bool {
		return sl.entries[i].Date > sl.entries[j].Date
	})
}

// filterRange copies the slot's entries bounded by rng. The copy keeps
// slot contents exclusive to the cache.
func filterRange(sl *slot, rng model.DateRange) model.EntryList {
	out := model.EntryList{Skipped: sl.skipped}
	if rng.IsZero() {
		out.Entries = append([]model.Entry(nil), sl.entries...)
		return out
	}
	for _, e := range sl.entries {
		if rng.Contains(e.Date) {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}
