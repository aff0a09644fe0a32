package travel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fieldroute/internal/opt"
)

const orsBody = `{"routes":[{"summary":{"distance":1000,"duration":120},
 "segments":[{"steps":[
  {"distance":600,"duration":70,"instruction":"Head north on Main Street","name":"Main Street"},
  {"distance":400,"duration":50,"instruction":"Arrive at destination","name":"-"}]}]}]}`

func newORS(t *testing.T, url string) *ORS {
	t.Helper()
	o, err := NewORS(ORSConfig{APIKey: "k", BaseURL: url, RPS: 1000, Burst: 10})
	if err != nil {
		t.Fatalf("NewORS: %v", err)
	}
	o.backoff = time.Millisecond
	return o
}

func TestORSRouteParsesDirections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/directions/driving-car/json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "k" {
			t.Errorf("missing api key")
		}
		var req orsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Coordinates) != 2 || req.Coordinates[0][0] != 13.4 {
			t.Errorf("coordinates not lng,lat: %+v", req.Coordinates)
		}
		_, _ = w.Write([]byte(orsBody))
	}))
	defer srv.Close()

	res, err := newORS(t, srv.URL).Route(context.Background(), opt.Coordinate{Lat: 52.5, Lng: 13.4}, opt.Coordinate{Lat: 52.51, Lng: 13.4})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Distance != 1000 || res.Duration != 2*time.Minute {
		t.Fatalf("summary = %+v", res)
	}
	if len(res.Steps) != 2 || res.Steps[0].Street != "Main Street" || res.Steps[1].Street != "" {
		t.Fatalf("steps = %+v", res.Steps)
	}
	// 1 km in 2 minutes against 72 s of free flow
	if res.Severity != opt.SeverityHeavy {
		t.Fatalf("severity = %s", res.Severity)
	}
}

func TestORSRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(orsBody))
	}))
	defer srv.Close()

	if _, err := newORS(t, srv.URL).Route(context.Background(), opt.Coordinate{}, opt.Coordinate{Lat: 0.01}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestORSNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unroutable"}`, http.StatusNotFound)
	}))
	defer srv.Close()
	_, err := newORS(t, srv.URL).Route(context.Background(), opt.Coordinate{}, opt.Coordinate{Lat: 1})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"routes":[]}`))
	}))
	defer empty.Close()
	_, err = newORS(t, empty.URL).Route(context.Background(), opt.Coordinate{}, opt.Coordinate{Lat: 1})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
}

func TestNewORSRequiresKey(t *testing.T) {
	if _, err := NewORS(ORSConfig{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

type flakyProvider struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	fail     func(from, to opt.Coordinate) bool
	delay    time.Duration
}

func (f *flakyProvider) Route(ctx context.Context, from, to opt.Coordinate) (Result, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if f.fail != nil && f.fail(from, to) {
		return Result{}, errors.New("upstream down")
	}
	return Result{Distance: 1, Duration: time.Second, Severity: opt.SeverityHeavy}, nil
}

func testStops() []opt.Stop {
	return []opt.Stop{
		{ID: "a", Loc: opt.Coordinate{Lat: 0, Lng: 0}},
		{ID: "b", Loc: opt.Coordinate{Lat: 0, Lng: 0.1}},
		{ID: "c", Loc: opt.Coordinate{Lat: 0, Lng: 0.2}},
		{ID: "d", Loc: opt.Coordinate{Lat: 0, Lng: 0.3}},
	}
}

func TestBuildFallsBackPerLeg(t *testing.T) {
	stops := testStops()
	p := &flakyProvider{fail: func(from, to opt.Coordinate) bool { return to.Lng == 0.2 }}
	b := &MatrixBuilder{Provider: p, Concurrency: 2}
	start := opt.Coordinate{Lat: 0, Lng: -0.1}
	m, err := b.Build(context.Background(), stops, &start)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(m.Legs) != 5 {
		t.Fatalf("legs rows = %d", len(m.Legs))
	}
	// every leg into c came from the model
	if m.Fallbacks != 4 {
		t.Fatalf("fallbacks = %d, want 4", m.Fallbacks)
	}
	if l := m.Legs[0][2]; l.Severity != opt.SeverityNormal || l.Distance < 20000 {
		t.Fatalf("fallback leg = %+v", l)
	}
	if l, ok := m.Snapshot.Lookup("a", "b"); !ok || l.Severity != opt.SeverityHeavy {
		t.Fatalf("snapshot a->b = %+v %v", l, ok)
	}
	if _, ok := m.Snapshot.Lookup(opt.StartID, "a"); !ok {
		t.Fatal("start leg missing from snapshot")
	}
	if p.peak > 2 {
		t.Fatalf("concurrency limit exceeded: %d", p.peak)
	}
}

func TestBuildTimesOutSlowLookups(t *testing.T) {
	p := &flakyProvider{delay: time.Second}
	b := &MatrixBuilder{Provider: p, Concurrency: 16, CallTimeout: 20 * time.Millisecond}
	began := time.Now()
	m, err := b.Build(context.Background(), testStops(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if time.Since(began) > 500*time.Millisecond {
		t.Fatalf("build took %v", time.Since(began))
	}
	if m.Fallbacks != 12 {
		t.Fatalf("fallbacks = %d, want 12", m.Fallbacks)
	}
}

func TestBuildStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &MatrixBuilder{Provider: StraightLine{}}
	if _, err := b.Build(ctx, testStops(), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestPath(t *testing.T) {
	b := &MatrixBuilder{Provider: StraightLine{SpeedKph: 50}}
	pts := []opt.Coordinate{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.1}, {Lat: 0, Lng: 0.3}}
	legs, err := b.Path(context.Background(), pts)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(legs) != 2 || legs[1].Distance <= legs[0].Distance {
		t.Fatalf("legs = %+v", legs)
	}
}
