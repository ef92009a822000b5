// Package cache holds job metadata and finished results in memory with
// wall-clock expiry anchored at each entry's creation time.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/stylegen/internal/domain"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	DefaultResultTTL     = 300 * time.Second
	DefaultMetadataTTL   = time.Hour
	DefaultSweepInterval = time.Minute
)

type Options struct {
	ResultTTL     time.Duration
	MetadataTTL   time.Duration
	SweepInterval time.Duration
}

type Stats struct {
	MetadataCount int `json:"metadataCount"`
	ResultCount   int `json:"resultCount"`
	TTLSeconds    int `json:"ttlSeconds"`
}

// Cache stores one metadata entry and at most one result per job id.
// Results expire ResultTTL after they were produced and take their metadata
// with them. Metadata that never got a result expires MetadataTTL after the
// job was created. Reads never extend an entry's lifetime.
type Cache struct {
	// mu serialises compound operations across both stores.
	mu       sync.Mutex
	sweeping bool

	metadata *gocache.Cache
	results  *gocache.Cache

	resultTTL     time.Duration
	metadataTTL   time.Duration
	sweepInterval time.Duration
	logger        zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Cache {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.MetadataTTL <= 0 {
		opts.MetadataTTL = DefaultMetadataTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	c := &Cache{
		// The janitor is disabled; Run drives eviction.
		metadata:      gocache.New(opts.MetadataTTL, 0),
		results:       gocache.New(opts.ResultTTL, 0),
		resultTTL:     opts.ResultTTL,
		metadataTTL:   opts.MetadataTTL,
		sweepInterval: opts.SweepInterval,
		logger:        logger,
	}
	c.results.OnEvicted(c.onResultEvicted)
	return c
}

// onResultEvicted runs synchronously inside Sweep or DeleteResult, both of
// which hold c.mu. Only expiry removes the metadata too.
func (c *Cache) onResultEvicted(id string, _ any) {
	if !c.sweeping {
		return
	}
	c.metadata.Delete(id)
	c.logger.Debug().Str("job_id", id).Msg("result expired, metadata removed")
}

func (c *Cache) SetMetadata(id string, meta domain.JobMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setMetadataLocked(id, meta)
}

func (c *Cache) setMetadataLocked(id string, meta domain.JobMetadata) {
	if _, ok := c.results.Get(id); ok {
		c.metadata.Set(id, meta, gocache.NoExpiration)
		return
	}
	c.metadata.Set(id, meta, remaining(c.metadataTTL, meta.CreatedAt))
}

func (c *Cache) GetMetadata(id string) (domain.JobMetadata, bool) {
	v, ok := c.metadata.Get(id)
	if !ok {
		return domain.JobMetadata{}, false
	}
	return v.(domain.JobMetadata), true
}

// UpdateMetadata applies update to the stored entry, keeping its expiry.
// A missing entry is left missing and false is returned.
func (c *Cache) UpdateMetadata(id string, update func(*domain.JobMetadata)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateMetadataLocked(id, update)
}

func (c *Cache) updateMetadataLocked(id string, update func(*domain.JobMetadata)) bool {
	v, expiresAt, ok := c.metadata.GetWithExpiration(id)
	if !ok {
		c.logger.Debug().Str("job_id", id).Msg("metadata update skipped, entry missing")
		return false
	}
	meta := v.(domain.JobMetadata)
	update(&meta)

	d := gocache.NoExpiration
	if !expiresAt.IsZero() {
		d = clamp(time.Until(expiresAt))
	}
	c.metadata.Set(id, meta, d)
	return true
}

func (c *Cache) DeleteMetadata(id string) {
	c.metadata.Delete(id)
}

// SetResult stores a finished artifact. From here on the metadata lives as
// long as the result does.
func (c *Cache) SetResult(id string, result domain.JobResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setResultLocked(id, result)
}

func (c *Cache) setResultLocked(id string, result domain.JobResult) {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	c.results.Set(id, result, remaining(c.resultTTL, result.CreatedAt))
	if v, ok := c.metadata.Get(id); ok {
		c.metadata.Set(id, v, gocache.NoExpiration)
	}
}

// CommitResult stores the result and applies update to the metadata under
// one lock, so readers never observe a result next to stale metadata.
// It reports whether metadata was present to update.
func (c *Cache) CommitResult(id string, result domain.JobResult, update func(*domain.JobMetadata)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setResultLocked(id, result)
	return c.updateMetadataLocked(id, update)
}

func (c *Cache) GetResult(id string) (domain.JobResult, bool) {
	v, ok := c.results.Get(id)
	if !ok {
		return domain.JobResult{}, false
	}
	return v.(domain.JobResult), true
}

func (c *Cache) DeleteResult(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results.Delete(id)
}

func (c *Cache) Stats() Stats {
	return Stats{
		MetadataCount: c.metadata.ItemCount(),
		ResultCount:   c.results.ItemCount(),
		TTLSeconds:    int(c.resultTTL / time.Second),
	}
}

// ClearAll drops every entry and returns how many of each were held.
func (c *Cache) ClearAll() (metadata, results int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	metadata = c.metadata.ItemCount()
	results = c.results.ItemCount()
	c.metadata.Flush()
	c.results.Flush()
	c.logger.Info().Int("metadata", metadata).Int("results", results).Msg("cache cleared")
	return metadata, results
}

// Sweep evicts expired results (with their metadata) and then expired
// metadata.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeping = true
	c.results.DeleteExpired()
	c.sweeping = false
	c.metadata.DeleteExpired()
}

// Run sweeps every SweepInterval until ctx is done.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func remaining(ttl time.Duration, createdAt time.Time) time.Duration {
	if createdAt.IsZero() {
		return ttl
	}
	return clamp(ttl - time.Since(createdAt))
}

// clamp keeps already-due entries expiring; go-cache treats non-positive
// durations as "never".
func clamp(d time.Duration) time.Duration {
	if d < time.Nanosecond {
		return time.Nanosecond
	}
	return d
}
