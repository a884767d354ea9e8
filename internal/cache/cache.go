// Package cache persists per-file audit results so unchanged files are not
// parsed and matched again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chris-regnier/vigil/internal/engine"
)

var cacheTracer = otel.Tracer("github.com/chris-regnier/vigil/internal/cache")

// formatVersion is bumped whenever the stored entry layout changes.
const formatVersion = 1

var _ engine.Cache = (*Results)(nil)

// Entry is the stored form of one file result.
type Entry struct {
	Version  int                `json:"version"`
	Key      string             `json:"key"`
	Result   *engine.FileResult `json:"result"`
	StoredAt time.Time          `json:"stored_at"`
}

// Stats counts cache traffic for one run.
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Writes     int64   `json:"writes"`
	Errors     int64   `json:"errors"`
	HitRate    float64 `json:"hit_rate"`
	MemEntries int     `json:"mem_entries"`
	Evictions  int64   `json:"evictions"`
}

// Results is an engine.Cache with a bounded in-memory layer in front of a
// Storage. Storage failures are logged and treated as misses.
type Results struct {
	store  Storage
	logger *slog.Logger
	maxMem int

	mu        sync.Mutex
	mem       map[string]*Entry
	hits      int64
	misses    int64
	writes    int64
	errs      int64
	evictions int64
}

// Option configures Results.
type Option func(*Results)

// WithMemoryLimit bounds the in-memory layer. Zero disables it.
func WithMemoryLimit(n int) Option { return func(r *Results) { r.maxMem = n } }

// WithLogger sets the logger for storage failures.
func WithLogger(l *slog.Logger) Option { return func(r *Results) { r.logger = l } }

// NewResults creates a result cache over store. store may be nil for a
// memory-only cache.
func NewResults(store Storage, opts ...Option) *Results {
	r := &Results{
		store:  store,
		maxMem: 1000,
		mem:    make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Get returns a copy of the cached result for key.
func (r *Results) Get(ctx context.Context, key string) (*engine.FileResult, bool) {
	ctx, span := cacheTracer.Start(ctx, "cache lookup")
	defer span.End()
	span.SetAttributes(attribute.String("vigil.cache.key", key))

	r.mu.Lock()
	e, ok := r.mem[key]
	r.mu.Unlock()
	if ok {
		r.count(&r.hits)
		span.SetAttributes(attribute.Bool("vigil.cache.hit", true), attribute.String("vigil.cache.layer", "memory"))
		return clone(e.Result), true
	}

	e, err := r.load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.count(&r.errs)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Warn("cache read failed", "key", key, "error", err)
		}
		r.count(&r.misses)
		span.SetAttributes(attribute.Bool("vigil.cache.hit", false))
		return nil, false
	}
	r.remember(e)
	r.count(&r.hits)
	span.SetAttributes(attribute.Bool("vigil.cache.hit", true), attribute.String("vigil.cache.layer", "storage"))
	return clone(e.Result), true
}

func (r *Results) load(ctx context.Context, key string) (*Entry, error) {
	if r.store == nil {
		return nil, ErrCacheMiss
	}
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	// Stale layouts and key collisions read as misses.
	if e.Version != formatVersion || e.Key != key || e.Result == nil {
		return nil, ErrCacheMiss
	}
	return &e, nil
}

// Put stores a copy of res under key.
func (r *Results) Put(ctx context.Context, key string, res *engine.FileResult) {
	ctx, span := cacheTracer.Start(ctx, "cache store")
	defer span.End()
	span.SetAttributes(attribute.String("vigil.cache.key", key))

	stored := clone(res)
	if stored.Err != nil && stored.Error == "" {
		stored.Error = stored.Err.Error()
	}
	stored.Err = nil
	stored.CacheHit = false
	stored.Duration = 0

	e := &Entry{Version: formatVersion, Key: key, Result: stored, StoredAt: time.Now().UTC()}
	r.remember(e)
	r.count(&r.writes)

	if r.store == nil {
		return
	}
	data, err := json.Marshal(e)
	if err == nil {
		err = r.store.Put(ctx, key, data)
	}
	if err != nil {
		r.count(&r.errs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Clear drops the memory layer and every stored entry.
func (r *Results) Clear(ctx context.Context) (int, error) {
	r.mu.Lock()
	r.mem = make(map[string]*Entry)
	r.mu.Unlock()
	if r.store == nil {
		return 0, nil
	}
	keys, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if err := r.store.Delete(ctx, k); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// Stats returns the traffic counters so far.
func (r *Results) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{
		Hits:       r.hits,
		Misses:     r.misses,
		Writes:     r.writes,
		Errors:     r.errs,
		MemEntries: len(r.mem),
		Evictions:  r.evictions,
	}
	if total := r.hits + r.misses; total > 0 {
		s.HitRate = float64(r.hits) / float64(total)
	}
	return s
}

func (r *Results) count(c *int64) {
	r.mu.Lock()
	*c++
	r.mu.Unlock()
}

func (r *Results) remember(e *Entry) {
	if r.maxMem <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mem[e.Key]; !ok && len(r.mem) >= r.maxMem {
		r.evictOldest()
	}
	r.mem[e.Key] = e
}

// evictOldest removes the entry stored first. Must be called with mu held.
func (r *Results) evictOldest() {
	var oldest *Entry
	for _, e := range r.mem {
		if oldest == nil || e.StoredAt.Before(oldest.StoredAt) {
			oldest = e
		}
	}
	if oldest != nil {
		delete(r.mem, oldest.Key)
		r.evictions++
	}
}

func clone(res *engine.FileResult) *engine.FileResult {
	c := *res
	c.Findings = append(c.Findings[:0:0], res.Findings...)
	c.Diagnostics = append(c.Diagnostics[:0:0], res.Diagnostics...)
	return &c
}

// Fingerprint hashes the configuration parts a cached result depends on.
// Part order matters.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
