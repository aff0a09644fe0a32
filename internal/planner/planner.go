// Package planner is the entry point to route optimization. It checks the
// route cache, gathers travel data, runs the strategy chosen for the stop
// count and evaluates the result.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"fieldroute/internal/cache"
	"fieldroute/internal/metrics"
	"fieldroute/internal/opt"
	"fieldroute/internal/travel"
)

var (
	// ErrDuplicateStop is returned when a request names the same stop twice.
	ErrDuplicateStop = errors.New("duplicate stop id")
	// ErrNoDirections is returned when the provider has no route for a leg.
	ErrNoDirections = errors.New("no directions available")
)

// Config tunes the planner.
type Config struct {
	Settings    opt.Settings  `yaml:"strategies"`
	DayEndHour  int           `yaml:"day_end_hour"`
	SpeedKph    float64       `yaml:"speed_kph"`
	Concurrency int           `yaml:"concurrency"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	// LateAfter is how far past a planned arrival the driver must be before
	// a re-plan is suggested.
	LateAfter time.Duration `yaml:"late_after"`
	// TrafficShift is the relative slowdown of remaining legs that counts as
	// a traffic change.
	TrafficShift float64 `yaml:"traffic_shift"`
	// MinImprovement is the relative saving a traffic re-plan must reach.
	MinImprovement float64 `yaml:"min_improvement"`
}

// DefaultConfig returns the standard planner tuning.
func DefaultConfig() Config {
	return Config{
		Settings:       opt.DefaultSettings(),
		SpeedKph:       opt.DefaultSpeedKph,
		Concurrency:    8,
		CallTimeout:    3 * time.Second,
		CacheTTL:       cache.DefaultTTL,
		LateAfter:      10 * time.Minute,
		TrafficShift:   0.15,
		MinImprovement: 0.10,
	}
}

// Request is one optimization call.
type Request struct {
	Stops       []opt.Stop
	Tasks       []opt.Task
	Start       *opt.Coordinate
	Constraints opt.Constraints
	// Strategy forces a strategy by name; empty selects by stop count.
	Strategy string
	// NoCache skips both cache lookup and store.
	NoCache bool
}

// Segment is the driving directions between two consecutive route points.
type Segment struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Distance float64       `json:"distanceMeters"`
	Duration time.Duration `json:"duration"`
	Steps    []travel.Step `json:"steps"`
}

// Planner is safe for concurrent use.
type Planner struct {
	cache    cache.RouteCache
	provider travel.Provider
	matrix   *travel.MatrixBuilder
	traffic  TrafficCheck
	analyzer opt.Analyzer
	cfg      Config
	group    singleflight.Group
	now      func() time.Time
}

// Option customizes a Planner.
type Option func(*Planner)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

// WithTrafficCheck replaces the traffic change detector.
func WithTrafficCheck(tc TrafficCheck) Option { return func(p *Planner) { p.traffic = tc } }

// New wires a Planner. A nil cache gets an in-memory one.
func New(rc cache.RouteCache, provider travel.Provider, cfg Config, opts ...Option) *Planner {
	d := DefaultConfig()
	if cfg.SpeedKph <= 0 {
		cfg.SpeedKph = d.SpeedKph
	}
	if cfg.LateAfter <= 0 {
		cfg.LateAfter = d.LateAfter
	}
	if cfg.TrafficShift <= 0 {
		cfg.TrafficShift = d.TrafficShift
	}
	if cfg.MinImprovement <= 0 {
		cfg.MinImprovement = d.MinImprovement
	}
	if rc == nil {
		rc = cache.NewMemory(cfg.CacheTTL)
	}
	if provider == nil {
		provider = travel.StraightLine{SpeedKph: cfg.SpeedKph}
	}
	p := &Planner{
		cache:    rc,
		provider: provider,
		matrix: &travel.MatrixBuilder{
			Provider:    provider,
			Concurrency: cfg.Concurrency,
			CallTimeout: cfg.CallTimeout,
			SpeedKph:    cfg.SpeedKph,
		},
		analyzer: opt.Analyzer{DayEndHour: cfg.DayEndHour},
		cfg:      cfg,
		now:      time.Now,
	}
	p.traffic = &LegComparison{Matrix: p.matrix, Shift: cfg.TrafficShift}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Planner) Config() Config { return p.cfg }

func validate(req Request) error {
	seen := make(map[string]struct{}, len(req.Stops))
	for _, s := range req.Stops {
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateStop, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	if !req.Constraints.OptimizeFor.Valid() {
		return fmt.Errorf("unknown objective %q", req.Constraints.OptimizeFor)
	}
	if _, err := opt.StrategyByName(req.Strategy, len(req.Stops), opt.Settings{}); err != nil {
		return err
	}
	return nil
}

// Optimize returns the best route found for req. Identical stop sets with
// the same flags are answered from cache for the cache TTL; concurrent
// identical requests share one computation.
func (p *Planner) Optimize(ctx context.Context, req Request) (opt.Route, error) {
	if err := validate(req); err != nil {
		return opt.Route{}, err
	}
	if len(req.Stops) == 0 {
		return opt.EmptyRoute(p.now()), nil
	}
	if req.NoCache {
		r, _, err := p.solve(ctx, req)
		return r, err
	}

	ids := make([]string, len(req.Stops))
	for i, s := range req.Stops {
		ids[i] = s.ID
	}
	key := cache.Key(ids, req.Constraints.OptimizeFor, req.Constraints.AvoidTraffic, req.Strategy)
	if r, ok := p.lookup(ctx, key); ok {
		return r, nil
	}
	v, err, _ := p.group.Do(key, func() (any, error) {
		// a flight for this key may have finished since the lookup above
		if r, ok, err := p.cache.Get(ctx, key); err == nil && ok {
			return r, nil
		}
		r, _, err := p.solve(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := p.cache.Put(ctx, key, r); err != nil {
			log.Printf("[planner] cache put key=%s err=%v", key[:12], err)
		}
		return r, nil
	})
	if err != nil {
		return opt.Route{}, err
	}
	return v.(opt.Route), nil
}

func (p *Planner) lookup(ctx context.Context, key string) (opt.Route, bool) {
	r, ok, err := p.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		log.Printf("[planner] cache get key=%s err=%v", key[:12], err)
		return opt.Route{}, false
	case ok:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return r, true
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return opt.Route{}, false
	}
}

// solve runs the full pipeline without the cache and also returns the
// Problem so callers can score other orders under the same conditions.
func (p *Planner) solve(ctx context.Context, req Request) (opt.Route, *opt.Problem, error) {
	now := p.now()
	an := p.analyzer.Analyze(req.Stops, req.Tasks, now)
	if len(an.Conflicts) > 0 {
		log.Printf("[planner] infeasible windows ignored stops=%v", an.Conflicts)
	}
	depart := req.Constraints.PreferredStartTime
	if depart.IsZero() {
		depart = now
	}
	m, err := p.matrix.Build(ctx, req.Stops, req.Start)
	if err != nil {
		return opt.Route{}, nil, fmt.Errorf("build travel matrix: %w", err)
	}
	prob := opt.NewProblem(req.Stops, an, req.Constraints, req.Start, depart, m.Legs, m.Snapshot)
	prob.SpeedKph = p.cfg.SpeedKph

	strat, err := opt.StrategyByName(req.Strategy, len(req.Stops), p.cfg.Settings)
	if err != nil {
		return opt.Route{}, nil, err
	}
	began := time.Now()
	order := strat.Solve(ctx, prob)
	took := time.Since(began)
	if err := ctx.Err(); err != nil {
		return opt.Route{}, nil, err
	}
	metrics.Optimizations.WithLabelValues(strat.Name()).Inc()
	metrics.OptimizeDuration.WithLabelValues(strat.Name()).Observe(took.Seconds())

	r := prob.Evaluate(order, now)
	r.Strategy = strat.Name()
	log.Printf("[planner] optimized stops=%d strategy=%s took=%s distance_m=%.0f duration=%s fallbacks=%d",
		len(req.Stops), strat.Name(), took, r.TotalDistance, r.TotalDuration, m.Fallbacks)
	return r, prob, nil
}

// ClearCache drops every cached route.
func (p *Planner) ClearCache(ctx context.Context) error { return p.cache.Clear(ctx) }

// GetDirections fetches turn-by-turn directions for each consecutive pair of
// route points, starting at start when it is set. A leg the provider cannot
// route fails the whole call with ErrNoDirections.
func (p *Planner) GetDirections(ctx context.Context, route opt.Route, start *opt.Coordinate) ([]Segment, error) {
	type point struct {
		id  string
		loc opt.Coordinate
	}
	var pts []point
	if start != nil {
		pts = append(pts, point{opt.StartID, *start})
	}
	for _, wp := range route.Waypoints {
		pts = append(pts, point{wp.Stop.ID, wp.Stop.Loc})
	}
	if len(pts) < 2 {
		return []Segment{}, nil
	}

	out := make([]Segment, len(pts)-1)
	g, gctx := errgroup.WithContext(ctx)
	limit := p.cfg.Concurrency
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)
	for i := range out {
		i := i
		g.Go(func() error {
			from, to := pts[i], pts[i+1]
			res, err := p.provider.Route(gctx, from.loc, to.loc)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %s -> %s: %v", ErrNoDirections, from.id, to.id, err)
			}
			out[i] = Segment{From: from.id, To: to.id, Distance: res.Distance, Duration: res.Duration, Steps: res.Steps}
			if out[i].Steps == nil {
				out[i].Steps = []travel.Step{}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
