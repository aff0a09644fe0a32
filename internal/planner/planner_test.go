package planner

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fieldroute/internal/opt"
	"fieldroute/internal/travel"
)

type countingProvider struct {
	calls int64
	delay time.Duration
	next  travel.Provider
}

func (c *countingProvider) Route(ctx context.Context, from, to opt.Coordinate) (travel.Result, error) {
	atomic.AddInt64(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	res, err := c.next.Route(ctx, from, to)
	res.Steps = []travel.Step{{Instruction: "Drive", Distance: res.Distance, Duration: res.Duration}}
	return res, err
}

func (c *countingProvider) count() int64 { return atomic.LoadInt64(&c.calls) }

func fixedClock(t *time.Time) Option { return WithClock(func() time.Time { return *t }) }

func gridStops(n int) []opt.Stop {
	out := make([]opt.Stop, n)
	for i := range out {
		out[i] = opt.Stop{
			ID:  fmt.Sprintf("stop-%02d", i),
			Loc: opt.Coordinate{Lat: 40 + float64(i%5)*0.01, Lng: -74 + float64(i/5)*0.01},
		}
	}
	return out
}

func newTestPlanner(t *testing.T, now *time.Time) (*Planner, *countingProvider) {
	t.Helper()
	prov := &countingProvider{next: travel.StraightLine{SpeedKph: 50}}
	cfg := DefaultConfig()
	cfg.Settings.Seed = 1
	return New(nil, prov, cfg, fixedClock(now)), prov
}

func TestOptimizeEmpty(t *testing.T) {
	now := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	p, prov := newTestPlanner(t, &now)
	r, err := p.Optimize(context.Background(), Request{})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(r.Waypoints) != 0 || r.TotalDistance != 0 || r.TotalDuration != 0 || r.Efficiency != 1.0 {
		t.Fatalf("not the canonical empty route: %+v", r)
	}
	if prov.count() != 0 {
		t.Fatalf("provider called %d times for empty input", prov.count())
	}
}

func TestOptimizeVisitsEveryStopOnce(t *testing.T) {
	now := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	p, _ := newTestPlanner(t, &now)
	cases := []struct {
		n        int
		strategy string
	}{{3, opt.NameExact}, {8, opt.NameGenetic}, {20, opt.NameGreedy}}
	for _, tc := range cases {
		stops := gridStops(tc.n)
		r, err := p.Optimize(context.Background(), Request{Stops: stops, Constraints: opt.Constraints{OptimizeFor: opt.OptimizeTime}})
		if err != nil {
			t.Fatalf("n=%d: %v", tc.n, err)
		}
		if r.Strategy != tc.strategy {
			t.Fatalf("n=%d: strategy %s, want %s", tc.n, r.Strategy, tc.strategy)
		}
		got := r.StopIDs()
		sort.Strings(got)
		want := make([]string, tc.n)
		for i, s := range stops {
			want[i] = s.ID
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("n=%d: stops %v", tc.n, got)
		}
		for i := 1; i < len(r.Waypoints); i++ {
			if r.Waypoints[i].EstimatedArrival.Before(r.Waypoints[i-1].EstimatedDeparture) {
				t.Fatalf("n=%d: waypoint %d arrives before previous departure", tc.n, i)
			}
		}
		if r.Efficiency <= 0 || r.Efficiency > 1 {
			t.Fatalf("efficiency %v out of range", r.Efficiency)
		}
	}
}

func TestOptimizeServesRepeatsFromCache(t *testing.T) {
	now := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	p, prov := newTestPlanner(t, &now)
	stops := gridStops(4)
	req := Request{Stops: stops, Constraints: opt.Constraints{OptimizeFor: opt.OptimizeDistance}}
	first, err := p.Optimize(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	calls := prov.count()
	if calls == 0 {
		t.Fatal("expected provider lookups on first call")
	}

	// same set in a different order hits the same entry
	req.Stops = []opt.Stop{stops[3], stops[1], stops[0], stops[2]}
	second, err := p.Optimize(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if prov.count() != calls {
		t.Fatalf("second call re-planned: %d lookups", prov.count()-calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("cached route differs from original")
	}

	req.Constraints.AvoidTraffic = true
	if _, err := p.Optimize(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if prov.count() == calls {
		t.Fatal("different flags must not share a cache entry")
	}

	if err := p.ClearCache(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls = prov.count()
	if _, err := p.Optimize(context.Background(), Request{Stops: stops, Constraints: opt.Constraints{OptimizeFor: opt.OptimizeDistance}}); err != nil {
		t.Fatal(err)
	}
	if prov.count() == calls {
		t.Fatal("cleared cache still served the route")
	}
}

func TestOptimizeDedupesConcurrentRequests(t *testing.T) {
	now := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	prov := &countingProvider{next: travel.StraightLine{}, delay: 20 * time.Millisecond}
	p := New(nil, prov, DefaultConfig(), fixedClock(&now))
	stops := gridStops(4)

	var wg sync.WaitGroup
	routes := make([]opt.Route, 5)
	for i := range routes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.Optimize(context.Background(), Request{Stops: stops})
			if err != nil {
				t.Errorf("optimize: %v", err)
			}
			routes[i] = r
		}(i)
	}
	wg.Wait()
	if got := prov.count(); got != 12 {
		t.Fatalf("lookups = %d, want one matrix (12)", got)
	}
	for _, r := range routes[1:] {
		if !reflect.DeepEqual(r.StopIDs(), routes[0].StopIDs()) {
			t.Fatal("concurrent callers got different routes")
		}
	}
}

func TestOptimizeRejectsBadInput(t *testing.T) {
	now := time.Now()
	p, _ := newTestPlanner(t, &now)
	stops := gridStops(2)
	stops[1].ID = stops[0].ID
	if _, err := p.Optimize(context.Background(), Request{Stops: stops}); !errors.Is(err, ErrDuplicateStop) {
		t.Fatalf("err = %v, want ErrDuplicateStop", err)
	}
	if _, err := p.Optimize(context.Background(), Request{Stops: gridStops(2), Strategy: "annealing"}); err == nil {
		t.Fatal("expected unknown strategy error")
	}
	if _, err := p.Optimize(context.Background(), Request{Stops: gridStops(2), Constraints: opt.Constraints{OptimizeFor: "cost"}}); err == nil {
		t.Fatal("expected unknown objective error")
	}
}

func TestOptimizePutsPriorityStopsFirst(t *testing.T) {
	now := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	p, _ := newTestPlanner(t, &now)
	stops := gridStops(25)
	r, err := p.Optimize(context.Background(), Request{
		Stops:       stops,
		Constraints: opt.Constraints{PriorityStops: []string{"stop-24", "stop-03"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	ids := r.StopIDs()
	if ids[0] != "stop-24" || ids[1] != "stop-03" {
		t.Fatalf("priority stops not first: %v", ids[:3])
	}
	if r.Waypoints[0].OnSite != 90*time.Minute {
		t.Fatalf("priority on-site = %s", r.Waypoints[0].OnSite)
	}
}

type failingProvider struct{ failTo string }

func (f failingProvider) Route(ctx context.Context, from, to opt.Coordinate) (travel.Result, error) {
	if fmt.Sprint(to) == f.failTo {
		return travel.Result{}, travel.ErrNoRoute
	}
	return travel.StraightLine{}.Route(ctx, from, to)
}

func TestGetDirections(t *testing.T) {
	now := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	p, _ := newTestPlanner(t, &now)
	r, err := p.Optimize(context.Background(), Request{Stops: gridStops(3)})
	if err != nil {
		t.Fatal(err)
	}
	start := opt.Coordinate{Lat: 39.99, Lng: -74}
	segs, err := p.GetDirections(context.Background(), r, &start)
	if err != nil {
		t.Fatalf("directions: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	if segs[0].From != opt.StartID || segs[0].To != r.Waypoints[0].Stop.ID || segs[2].To != r.Waypoints[2].Stop.ID {
		t.Fatalf("segments out of order: %+v", segs)
	}
	if len(segs[1].Steps) == 0 {
		t.Fatal("missing steps")
	}

	segs, err = p.GetDirections(context.Background(), r, nil)
	if err != nil || len(segs) != 2 {
		t.Fatalf("without start: %d segments, err %v", len(segs), err)
	}

	broken := New(nil, failingProvider{failTo: fmt.Sprint(r.Waypoints[1].Stop.Loc)}, DefaultConfig())
	if _, err := broken.GetDirections(context.Background(), r, nil); !errors.Is(err, ErrNoDirections) {
		t.Fatalf("err = %v, want ErrNoDirections", err)
	}
}
