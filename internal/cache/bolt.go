package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	TokenBucket      = "token_cache"
	TokenStatsBucket = "token_cache_stats"
	CleanupInterval  = 5 * time.Minute

	statsKey = "stats"
)

// BoltCache is a persistent TTL cache stored in a bbolt database
type BoltCache struct {
	db     *bbolt.DB
	ownsDB bool
	logger *zap.Logger
	now    func() time.Time
	period time.Duration

	statsMu sync.Mutex
	stats   Stats

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// BoltOption configures a BoltCache
type BoltOption func(*BoltCache)

// WithBoltClock overrides the clock used for expiry
func WithBoltClock(now func() time.Time) BoltOption {
	return func(c *BoltCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCleanupInterval overrides how often expired records are swept
func WithCleanupInterval(d time.Duration) BoltOption {
	return func(c *BoltCache) {
		if d > 0 {
			c.period = d
		}
	}
}

// OpenBoltCache opens (creating if needed) the database at path and wraps it.
// The database is closed together with the cache.
func OpenBoltCache(path string, logger *zap.Logger, opts ...BoltOption) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create token cache dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open token cache %s: %w", path, err)
	}
	c, err := NewBoltCache(db, logger, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// NewBoltCache creates a cache on an already opened database
func NewBoltCache(db *bbolt.DB, logger *zap.Logger, opts ...BoltOption) (*BoltCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &BoltCache{
		db:     db,
		logger: logger,
		now:    time.Now,
		period: CleanupInterval,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(TokenBucket)); err != nil {
			return fmt.Errorf("create token bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(TokenStatsBucket)); err != nil {
			return fmt.Errorf("create token stats bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.loadStats(); err != nil {
		logger.Warn("Failed to load token cache stats", zap.Error(err))
	}

	go c.cleanupLoop()

	return c, nil
}

// Get returns the value under key. Expired records are deleted.
func (c *BoltCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	found := false

	err := c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TokenBucket))
		data := bucket.Get([]byte(key))
		if data == nil {
			c.bump(func(s *Stats) { s.MissCount++ })
			return c.saveStats(tx)
		}

		var rec Record
		if err := rec.UnmarshalBinary(data); err != nil {
			c.logger.Warn("Dropping unreadable token cache record",
				zap.String("key", key), zap.Error(err))
			if err := bucket.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete corrupt record: %w", err)
			}
			c.bump(func(s *Stats) { s.MissCount++; s.TotalEntries-- })
			return c.saveStats(tx)
		}

		if rec.ExpiredAt(c.now()) {
			if err := bucket.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete expired record: %w", err)
			}
			c.bump(func(s *Stats) { s.MissCount++; s.EvictedCount++; s.TotalEntries-- })
			return c.saveStats(tx)
		}

		value = rec.Value
		found = true
		c.bump(func(s *Stats) { s.HitCount++ })
		return c.saveStats(tx)
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// SetWithTTL stores value under key for ttl
func (c *BoltCache) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.now()
	rec := &Record{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TokenBucket))
		existed := bucket.Get([]byte(key)) != nil
		if err := bucket.Put([]byte(key), data); err != nil {
			return fmt.Errorf("store token record: %w", err)
		}
		if !existed {
			c.bump(func(s *Stats) { s.TotalEntries++ })
		}
		return c.saveStats(tx)
	})
}

// Delete removes key
func (c *BoltCache) Delete(_ context.Context, key string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TokenBucket))
		if bucket.Get([]byte(key)) == nil {
			return nil
		}
		if err := bucket.Delete([]byte(key)); err != nil {
			return fmt.Errorf("delete token record: %w", err)
		}
		c.bump(func(s *Stats) { s.TotalEntries-- })
		return c.saveStats(tx)
	})
}

// GetStats returns a copy of the current statistics
func (c *BoltCache) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Ping verifies the database still accepts read transactions
func (c *BoltCache) Ping(_ context.Context) error {
	return c.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(TokenBucket)) == nil {
			return fmt.Errorf("bucket %s missing", TokenBucket)
		}
		return nil
	})
}

// Close stops the cleanup loop and closes the database if the cache opened it
func (c *BoltCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
		if c.ownsDB {
			err = c.db.Close()
		}
	})
	return err
}

func (c *BoltCache) cleanupLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.cleanup(); err != nil {
				c.logger.Error("Token cache cleanup failed", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// cleanup removes expired records and returns how many were dropped
func (c *BoltCache) cleanup() (int, error) {
	now := c.now()
	removed := 0

	err := c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TokenBucket))
		cursor := bucket.Cursor()

		var expired [][]byte
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var rec Record
			if err := rec.UnmarshalBinary(value); err != nil || rec.ExpiredAt(now) {
				expired = append(expired, append([]byte(nil), key...))
			}
		}

		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("delete expired key: %w", err)
			}
		}
		removed = len(expired)

		c.bump(func(s *Stats) {
			s.CleanupCount += removed
			s.TotalEntries -= removed
		})
		return c.saveStats(tx)
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		c.logger.Debug("Token cache cleanup completed", zap.Int("expired_entries", removed))
	}
	return removed, nil
}

func (c *BoltCache) bump(fn func(*Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	if c.stats.TotalEntries < 0 {
		c.stats.TotalEntries = 0
	}
	c.statsMu.Unlock()
}

func (c *BoltCache) loadStats() error {
	return c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(TokenStatsBucket)).Get([]byte(statsKey))
		if data == nil {
			return nil
		}
		c.statsMu.Lock()
		defer c.statsMu.Unlock()
		return c.stats.UnmarshalBinary(data)
	})
}

func (c *BoltCache) saveStats(tx *bbolt.Tx) error {
	c.statsMu.Lock()
	data, err := c.stats.MarshalBinary()
	c.statsMu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return tx.Bucket([]byte(TokenStatsBucket)).Put([]byte(statsKey), data)
}
