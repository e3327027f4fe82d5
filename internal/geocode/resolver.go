package geocode

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
	"github.com/couchcryptid/av-incident-etl/internal/observability"
)

// Plausible bounds for real GPS coordinates in US crash reports.
const (
	minRealLat = 18.0
	maxRealLat = 72.0
	minRealLon = -180.0
	maxRealLon = -65.0
)

// Street results further than this from the reference point are rejected.
const (
	cityRadiusDeg  = 0.5
	stateRadiusDeg = 5.0
)

// Jitter amplitudes spread incidents that share a fallback point.
const (
	cityJitterDeg  = 0.02
	stateJitterDeg = 0.05
)

const (
	kindCity   = "city"
	kindStreet = "street"
)

// Options configures a Resolver. Zero values select defaults.
type Options struct {
	// CacheSize bounds each of the city and street caches. Zero is unbounded.
	CacheSize int
	// PrewarmBatchSize is the number of concurrent city lookups per batch.
	PrewarmBatchSize int
	// PrewarmDelay is the pause between prewarm batches.
	PrewarmDelay time.Duration
	// Extractor finds street mentions in narratives.
	Extractor *domain.Extractor
	// Rand drives jitter. Nil uses the global source.
	Rand *rand.Rand
	// Clock times prewarm pauses.
	Clock clockwork.Clock
}

// Resolution is the resolved location of one incident.
type Resolution struct {
	Point       domain.Point
	Tier        domain.GeoTier
	DisplayName string
	// Street is the street text that was geocoded, for the street tier.
	Street string
}

// Resolver turns location hints into coordinates. It is safe for concurrent
// use; call Reset between runs to drop cached lookups.
type Resolver struct {
	provider  Provider
	logger    *slog.Logger
	metrics   *observability.Metrics
	extractor *domain.Extractor
	clock     clockwork.Clock
	opts      Options

	mu     sync.RWMutex
	city   *Cache
	street *Cache
	stats  *Stats

	group singleflight.Group

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewResolver creates a resolver. A nil provider disables the street and city
// tiers so every record without real coordinates lands on its state center.
func NewResolver(provider Provider, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Resolver {
	if opts.PrewarmBatchSize <= 0 {
		opts.PrewarmBatchSize = 50
	}
	if opts.Extractor == nil {
		opts.Extractor = domain.NewExtractor()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	r := &Resolver{
		provider:  provider,
		logger:    logger,
		metrics:   metrics,
		extractor: opts.Extractor,
		clock:     opts.Clock,
		opts:      opts,
		rng:       opts.Rand,
	}
	r.Reset()
	return r
}

// Reset drops both caches and the tier counters.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.city = NewCache(r.opts.CacheSize)
	r.street = NewCache(r.opts.CacheSize)
	r.stats = &Stats{}
}

// Accuracy returns the tier breakdown since the last Reset.
func (r *Resolver) Accuracy() Accuracy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Snapshot()
}

// CacheSizes returns the number of cached city and street lookups.
func (r *Resolver) CacheSizes() (city, street int) {
	c, s, _ := r.state()
	return c.Len(), s.Len()
}

func (r *Resolver) state() (*Cache, *Cache, *Stats) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.city, r.street, r.stats
}

// Prewarm geocodes each distinct city/state pair once, in concurrent batches
// separated by the configured delay. Lookup failures are cached, not returned;
// the only error is context cancellation.
func (r *Resolver) Prewarm(ctx context.Context, pairs []CityState) error {
	if r.provider == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(pairs))
	unique := make([]CityState, 0, len(pairs))
	for _, p := range pairs {
		if strings.TrimSpace(p.City) == "" {
			continue
		}
		key := cityKey(p.City, p.State)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, p)
	}

	batch := r.opts.PrewarmBatchSize
	for start := 0; start < len(unique); start += batch {
		if start > 0 && r.opts.PrewarmDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(r.opts.PrewarmDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+batch, len(unique))
		var g errgroup.Group
		g.SetLimit(batch)
		for _, p := range unique[start:end] {
			g.Go(func() error {
				r.cityCenter(ctx, p.City, p.State)
				return nil
			})
		}
		_ = g.Wait()
	}

	r.logger.Info("geocode prewarm complete", "pairs", len(unique))
	return nil
}

// Resolve returns coordinates for a hint, trying real GPS, then a geocoded
// street, then the city center, then the state center. It never fails.
func (r *Resolver) Resolve(ctx context.Context, hint domain.LocationHint) Resolution {
	res := r.resolve(ctx, hint)
	res.Point = clamp(res.Point)

	_, _, stats := r.state()
	stats.Record(res.Tier)
	r.metrics.GeocodeTiers.WithLabelValues(string(res.Tier)).Inc()
	return res
}

func (r *Resolver) resolve(ctx context.Context, hint domain.LocationHint) Resolution {
	if p, ok := RealCoordinates(hint.Latitude, hint.Longitude); ok {
		return Resolution{Point: p, Tier: domain.TierReal}
	}

	city, hasCity := r.cityCenter(ctx, hint.City, hint.State)
	stateCenter, hasState := StateCenter(hint.State)

	if res, ok := r.streetTier(ctx, hint, city, hasCity, stateCenter, hasState); ok {
		return res
	}

	if hasCity {
		return Resolution{
			Point:       r.jitter(domain.Point{Lat: city.Lat, Lon: city.Lon}, cityJitterDeg),
			Tier:        domain.TierCity,
			DisplayName: city.DisplayName,
		}
	}

	center := conusCenter
	if hasState {
		center = stateCenter
	}
	return Resolution{
		Point: r.jitter(center, stateJitterDeg),
		Tier:  domain.TierState,
	}
}

// streetTier geocodes the address column, then the narrative street mention,
// accepting the first result close enough to the reference point.
func (r *Resolver) streetTier(ctx context.Context, hint domain.LocationHint, city Candidate, hasCity bool, state domain.Point, hasState bool) (Resolution, bool) {
	if r.provider == nil {
		return Resolution{}, false
	}

	var ref domain.Point
	var radius float64
	switch {
	case hasCity:
		ref, radius = domain.Point{Lat: city.Lat, Lon: city.Lon}, cityRadiusDeg
	case hasState:
		ref, radius = state, stateRadiusDeg
	default:
		return Resolution{}, false
	}

	for _, street := range r.streetCandidates(hint) {
		l := r.lookup(ctx, kindStreet, streetKey(street, hint.City, hint.State),
			joinQuery(street, hint.City, hint.State), AddressTypes)
		if !l.Found {
			continue
		}
		if !within(l.Candidate, ref, radius) {
			r.logger.Debug("street geocode rejected, too far from reference",
				"street", street,
				"city", hint.City,
				"state", hint.State,
				"result", l.Candidate.DisplayName,
			)
			continue
		}
		return Resolution{
			Point:       domain.Point{Lat: l.Candidate.Lat, Lon: l.Candidate.Lon},
			Tier:        domain.TierStreet,
			DisplayName: l.Candidate.DisplayName,
			Street:      street,
		}, true
	}
	return Resolution{}, false
}

func (r *Resolver) streetCandidates(hint domain.LocationHint) []string {
	var out []string
	if addr := strings.TrimSpace(hint.Address); addr != "" && !isPlaceholder(addr) {
		out = append(out, addr)
	}
	if s, ok := r.extractor.Extract(hint.Narrative); ok && (len(out) == 0 || !strings.EqualFold(out[0], s)) {
		out = append(out, s)
	}
	return out
}

// cityCenter geocodes "City, ST" restricted to place types.
func (r *Resolver) cityCenter(ctx context.Context, city, state string) (Candidate, bool) {
	if r.provider == nil || strings.TrimSpace(city) == "" {
		return Candidate{}, false
	}
	l := r.lookup(ctx, kindCity, cityKey(city, state), joinQuery(city, state), PlaceTypes)
	return l.Candidate, l.Found
}

// lookup consults the cache for kind, collapsing concurrent misses for the
// same key into one provider call. Every outcome is cached.
func (r *Resolver) lookup(ctx context.Context, kind, key, query string, types ResultTypes) Lookup {
	cityCache, streetCache, _ := r.state()
	cache := cityCache
	if kind == kindStreet {
		cache = streetCache
	}

	if l, ok := cache.Get(key); ok {
		r.metrics.GeocodeCache.WithLabelValues(kind, "hit").Inc()
		return l
	}
	r.metrics.GeocodeCache.WithLabelValues(kind, "miss").Inc()

	v, _, _ := r.group.Do(kind+"|"+key, func() (any, error) {
		if l, ok := cache.Get(key); ok {
			return l, nil
		}
		l := r.search(ctx, kind, query, types)
		cache.Put(key, l)
		return l, nil
	})
	return v.(Lookup)
}

func (r *Resolver) search(ctx context.Context, kind, query string, types ResultTypes) Lookup {
	start := time.Now()
	candidates, err := r.provider.Search(ctx, query, types)
	r.metrics.GeocodeAPIDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		r.metrics.GeocodeRequests.WithLabelValues(kind, "error").Inc()
		r.logger.Warn("geocode lookup failed", "kind", kind, "query", query, "error", err)
		return Lookup{}
	}
	if len(candidates) == 0 {
		r.metrics.GeocodeRequests.WithLabelValues(kind, "empty").Inc()
		return Lookup{}
	}
	r.metrics.GeocodeRequests.WithLabelValues(kind, "success").Inc()
	return Lookup{Candidate: candidates[0], Found: true}
}

func (r *Resolver) jitter(p domain.Point, amount float64) domain.Point {
	return domain.Point{
		Lat: p.Lat + (r.randFloat()*2-1)*amount,
		Lon: p.Lon + (r.randFloat()*2-1)*amount,
	}
}

func (r *Resolver) randFloat() float64 {
	if r.rng == nil {
		return rand.Float64()
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Float64()
}

// RealCoordinates parses source latitude and longitude, accepting them only
// when both are numeric and inside the plausible US bounds.
func RealCoordinates(lat, lon string) (domain.Point, bool) {
	if isPlaceholder(lat) || isPlaceholder(lon) {
		return domain.Point{}, false
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return domain.Point{}, false
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return domain.Point{}, false
	}
	if math.IsNaN(la) || math.IsNaN(lo) || la < minRealLat || la > maxRealLat || lo < minRealLon || lo > maxRealLon {
		return domain.Point{}, false
	}
	return domain.Point{Lat: la, Lon: lo}, true
}

func isPlaceholder(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "" || strings.Contains(s, "unknown") || strings.Contains(s, "redacted") || strings.Contains(s, "blank")
}

func within(c Candidate, ref domain.Point, radius float64) bool {
	return math.Abs(c.Lat-ref.Lat) <= radius && math.Abs(c.Lon-ref.Lon) <= radius
}

func clamp(p domain.Point) domain.Point {
	return domain.Point{
		Lat: math.Max(-90, math.Min(90, p.Lat)),
		Lon: math.Max(-180, math.Min(180, p.Lon)),
	}
}
