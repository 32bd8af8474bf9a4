// Package notify provides rate-limited operator notifications.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Notification keys shared by the capture pipeline.
const (
	KeyQueueFull      = "queue_full"
	KeyStorageMissing = "storage_missing"
	KeyPartitions     = "partitions"
	KeyPersistFailed  = "persist_failed"
	KeyCounterFailed  = "counter_failed"
	KeyStreamStatus   = "stream_status"
	KeyUploadFailed   = "upload_failed"
	KeyNoticesDropped = "notices_dropped"
)

// idleEntryFactor is how many cooldowns a key may stay quiet before it is forgotten.
const idleEntryFactor = 10

// entry tracks emissions for one notification key.
type entry struct {
	lastEmit   time.Time
	suppressed int
}

// Notifier emits notifications keyed by error kind.
type Notifier interface {
	Notify(level slog.Level, key, msg string, args ...any) bool
	Warn(key, msg string, args ...any) bool
	Error(key, msg string, args ...any) bool
}

// RateLimiter emits at most one notification per key per cooldown period.
// Occurrences inside the cooldown are counted and the count is attached to the
// next emission for that key. It is safe for concurrent use.
type RateLimiter struct {
	logger   *slog.Logger
	cooldown time.Duration
	idleTTL  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	entries   *cache.Cache
	lastSweep time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *RateLimiter) { r.now = now }
}

// NewRateLimiter returns a RateLimiter that logs through logger.
// A non-positive cooldown disables suppression.
func NewRateLimiter(logger *slog.Logger, cooldown time.Duration, opts ...Option) *RateLimiter {
	r := &RateLimiter{
		logger:   logger,
		cooldown: max(cooldown, 0),
		idleTTL:  max(cooldown*idleEntryFactor, time.Minute),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	// Idle entries are swept from Notify on the limiter's clock.
	r.entries = cache.New(cache.NoExpiration, 0)
	r.lastSweep = r.now()
	return r
}

// Notify logs msg at level unless key was emitted within the cooldown.
// It reports whether the notification was emitted.
func (r *RateLimiter) Notify(level slog.Level, key, msg string, args ...any) bool {
	now := r.now()

	r.mu.Lock()
	if now.Sub(r.lastSweep) >= r.idleTTL {
		r.lastSweep = now
		r.sweepIdle(now)
	}

	var e *entry
	if v, ok := r.entries.Get(key); ok {
		e = v.(*entry) //nolint:forcetypeassert // Only *entry values are stored
	}

	emit := false
	suppressed := 0
	switch {
	case e == nil:
		e = &entry{lastEmit: now}
		emit = true
	case now.Sub(e.lastEmit) >= r.cooldown:
		suppressed = e.suppressed
		e.suppressed = 0
		e.lastEmit = now
		emit = true
	default:
		e.suppressed++
	}
	r.entries.Set(key, e, cache.DefaultExpiration)
	r.mu.Unlock()

	if !emit {
		return false
	}

	attrs := make([]any, 0, len(args)+4)
	attrs = append(attrs, "key", key)
	attrs = append(attrs, args...)
	if suppressed > 0 {
		attrs = append(attrs, "suppressed", suppressed)
	}
	r.logger.Log(context.Background(), level, msg, attrs...)
	return true
}

// Warn is Notify at warning level.
func (r *RateLimiter) Warn(key, msg string, args ...any) bool {
	return r.Notify(slog.LevelWarn, key, msg, args...)
}

// Error is Notify at error level.
func (r *RateLimiter) Error(key, msg string, args ...any) bool {
	return r.Notify(slog.LevelError, key, msg, args...)
}

// Suppressed returns the number of occurrences of key suppressed since its last emission.
func (r *RateLimiter) Suppressed(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.entries.Get(key); ok {
		return v.(*entry).suppressed //nolint:forcetypeassert // Only *entry values are stored
	}
	return 0
}

// Flush reports pending suppressed counts for every key and forgets them.
func (r *RateLimiter) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, item := range r.entries.Items() {
		r.flushEvicted(key, item.Object)
	}
	r.entries.Flush()
}

// sweepIdle forgets keys quiet for longer than idleTTL, reporting their
// suppressed counts first. Callers hold r.mu.
func (r *RateLimiter) sweepIdle(now time.Time) {
	for key, item := range r.entries.Items() {
		e, ok := item.Object.(*entry)
		if !ok || now.Sub(e.lastEmit) < r.idleTTL {
			continue
		}
		r.flushEvicted(key, e)
		r.entries.Delete(key)
	}
}

// flushEvicted reports occurrences that were suppressed but never emitted.
func (r *RateLimiter) flushEvicted(key string, v any) {
	e, ok := v.(*entry)
	if !ok || e.suppressed == 0 {
		return
	}
	r.logger.Warn("notifications suppressed", "key", key, "suppressed", e.suppressed)
}
