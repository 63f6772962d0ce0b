package phoneintel

import (
	"context"
	"errors"
	"sync"
	"time"

	"outreach-platform/internal/metrics"
	"outreach-platform/pkg/logger"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	DefaultRegion string
	BatchSize     int
	// Concurrency bounds parallel provider batches.
	Concurrency int
	// HotCacheSize is the in-process LRU capacity.
	HotCacheSize int
	// MaxAge expires cache entries; 0 means entries never expire.
	MaxAge time.Duration
	// Attempts and BaseDelay control provider retries.
	Attempts  int
	BaseDelay time.Duration
}

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
	defaultHotSize     = 10000
	defaultAttempts    = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.DefaultRegion == "" {
		o.DefaultRegion = "US"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.HotCacheSize <= 0 {
		o.HotCacheSize = defaultHotSize
	}
	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	return o
}

// Service classifies phones cache-first: hot LRU, then the persistent store,
// then the provider for whatever is left.
type Service struct {
	provider Provider
	store    CacheStore
	hot      *lru.Cache[string, Entry]
	opts     Options
	metrics  *metrics.Metrics

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(provider Provider, store CacheStore, opts Options, m *metrics.Metrics) (*Service, error) {
	opts = opts.withDefaults()
	hot, err := lru.New[string, Entry](opts.HotCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		provider: provider,
		store:    store,
		hot:      hot,
		opts:     opts,
		metrics:  m,
		clock:    time.Now,
		sleep:    sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Classify returns one Result per input, in input order.
//
// Unparseable inputs come back invalid/unknown without a provider call. Phones
// the provider could not answer after retries come back invalid/unknown and
// are not cached. Only context cancellation is returned as an error.
func (s *Service) Classify(ctx context.Context, phones []string) ([]Result, error) {
	out := make([]Result, len(phones))
	if len(phones) == 0 {
		return out, nil
	}
	log := logger.From(ctx)

	normalized := make([]string, len(phones))
	var pending []string
	seen := map[string]bool{}
	for i, raw := range phones {
		e164, ok := Normalize(raw, s.opts.DefaultRegion)
		if !ok {
			out[i] = unknown(raw, "")
			continue
		}
		normalized[i] = e164
		if !seen[e164] {
			seen[e164] = true
			pending = append(pending, e164)
		}
	}

	now := s.clock().UTC()
	resolved := make(map[string]Result, len(pending))

	// Hot layer.
	var cold []string
	for _, p := range pending {
		if e, ok := s.hot.Get(p); ok && s.fresh(e, now) {
			resolved[p] = Result{Lookup: e.Lookup, FromCache: true}
			continue
		}
		cold = append(cold, p)
	}
	s.metrics.PhoneLookups("hot_cache", len(pending)-len(cold))

	// Persistent layer.
	var misses []string
	var toWrite []Entry
	if len(cold) > 0 {
		stored, err := s.store.GetMany(ctx, cold)
		if err != nil {
			log.Warn("phone cache read failed", "err", err, "count", len(cold))
			stored = nil
		}
		var hits []Entry
		for _, p := range cold {
			if e, ok := stored[p]; ok && s.fresh(e, now) {
				resolved[p] = Result{Lookup: e.Lookup, FromCache: true}
				s.hot.Add(p, e)
				hits = append(hits, e)
				continue
			}
			misses = append(misses, p)
		}
		s.metrics.PhoneLookups("store_cache", len(hits))
		toWrite = append(toWrite, hits...)
	}

	// Provider for the rest.
	if len(misses) > 0 {
		fetched, err := s.fetch(ctx, misses)
		if err != nil {
			return nil, err
		}
		fetchedCount := 0
		for _, p := range misses {
			l, ok := fetched[p]
			if !ok {
				resolved[p] = unknown("", p)
				continue
			}
			l.Phone = p
			resolved[p] = Result{Lookup: l}
			e := Entry{Lookup: l, LastCheckedAt: now}
			s.hot.Add(p, e)
			toWrite = append(toWrite, e)
			fetchedCount++
		}
		s.metrics.PhoneLookups("provider", fetchedCount)
	}

	if len(toWrite) > 0 {
		if err := s.store.UpsertMany(ctx, toWrite); err != nil {
			log.Warn("phone cache write failed", "err", err, "count", len(toWrite))
		}
	}

	for i, raw := range phones {
		if normalized[i] == "" {
			continue
		}
		r := resolved[normalized[i]]
		r.Input = raw
		out[i] = r
	}
	return out, nil
}

func (s *Service) fresh(e Entry, now time.Time) bool {
	if s.opts.MaxAge <= 0 {
		return true
	}
	return now.Sub(e.LastCheckedAt) <= s.opts.MaxAge
}

// fetch calls the provider in batches with bounded concurrency. Batches that
// fail are logged and omitted from the returned map.
func (s *Service) fetch(ctx context.Context, phones []string) (map[string]Lookup, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]Lookup, len(phones))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for start := 0; start < len(phones); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(phones))
		batch := phones[start:end]
		g.Go(func() error {
			lookups, err := s.validateWithRetry(gctx, batch)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.From(ctx).Warn("phone lookup batch degraded", "err", err, "count", len(batch))
				s.metrics.PhoneLookups("degraded", len(batch))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, l := range lookups {
				e164, ok := Normalize(l.Phone, s.opts.DefaultRegion)
				if !ok {
					continue
				}
				out[e164] = l
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) validateWithRetry(ctx context.Context, batch []string) ([]Lookup, error) {
	delay := s.opts.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		lookups, err := s.provider.ValidateBatch(ctx, batch)
		if err == nil {
			return lookups, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) || attempt == s.opts.Attempts {
			break
		}
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, lastErr
}

// Partition is the output of Split.
type Partition struct {
	Mobiles   []Result
	Landlines []Result
	Rejected  []Result
}

// Split separates valid mobiles, valid landlines and everything else.
func Split(results []Result) Partition {
	var p Partition
	for _, r := range results {
		switch {
		case r.IsValid && r.PhoneType == PhoneMobile:
			p.Mobiles = append(p.Mobiles, r)
		case r.IsValid && r.PhoneType == PhoneLandline:
			p.Landlines = append(p.Landlines, r)
		default:
			p.Rejected = append(p.Rejected, r)
		}
	}
	return p
}
