package travel

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fieldroute/internal/metrics"
	"fieldroute/internal/opt"
)

// MatrixBuilder fans pairwise lookups out to a Provider with bounded
// concurrency. Each lookup runs under its own timeout; a failed or slow
// lookup is replaced by the travel model estimate.
type MatrixBuilder struct {
	Provider    Provider
	Concurrency int
	CallTimeout time.Duration
	SpeedKph    float64
}

// Matrix is the leg table for a stop set plus the traffic observed while
// building it.
type Matrix struct {
	Legs      [][]opt.Leg
	Snapshot  *opt.TrafficSnapshot
	Fallbacks int
}

func (b *MatrixBuilder) limit() int {
	if b.Concurrency <= 0 {
		return 8
	}
	return b.Concurrency
}

func (b *MatrixBuilder) timeout() time.Duration {
	if b.CallTimeout <= 0 {
		return 3 * time.Second
	}
	return b.CallTimeout
}

// lookup never fails unless ctx itself is done.
func (b *MatrixBuilder) lookup(ctx context.Context, from, to opt.Coordinate, fallbacks *int64) (opt.Leg, error) {
	if err := ctx.Err(); err != nil {
		return opt.Leg{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()
	res, err := b.Provider.Route(callCtx, from, to)
	if err == nil {
		metrics.ProviderCalls.WithLabelValues("ok").Inc()
		l := res.Leg()
		if l.Severity == "" {
			l.Severity = opt.SeverityNormal
		}
		return l, nil
	}
	if ctx.Err() != nil {
		return opt.Leg{}, ctx.Err()
	}
	metrics.ProviderCalls.WithLabelValues("fallback").Inc()
	atomic.AddInt64(fallbacks, 1)
	return opt.EstimateLeg(from, to, opt.SeverityNormal, b.SpeedKph), nil
}

// Build returns the (n+1)x(n+1) leg table for stops, index n being start.
// The start row is left empty when start is nil.
func (b *MatrixBuilder) Build(ctx context.Context, stops []opt.Stop, start *opt.Coordinate) (Matrix, error) {
	n := len(stops)
	pts := make([]opt.Coordinate, n+1)
	ids := make([]string, n+1)
	for i, s := range stops {
		pts[i], ids[i] = s.Loc, s.ID
	}
	ids[n] = opt.StartID
	if start != nil {
		pts[n] = *start
	}
	legs := make([][]opt.Leg, n+1)
	for i := range legs {
		legs[i] = make([]opt.Leg, n+1)
	}

	var fallbacks int64
	g := new(errgroup.Group)
	g.SetLimit(b.limit())
	for i := 0; i <= n; i++ {
		if i == n && start == nil {
			continue
		}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			i, j := i, j
			g.Go(func() error {
				l, err := b.lookup(ctx, pts[i], pts[j], &fallbacks)
				if err != nil {
					return err
				}
				legs[i][j] = l
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Matrix{}, err
	}

	observed := make(map[string]opt.Leg, n*n)
	for i := range legs {
		for j := range legs[i] {
			if i != j && legs[i][j].Severity != "" {
				observed[opt.PairKey(ids[i], ids[j])] = legs[i][j]
			}
		}
	}
	if fallbacks > 0 {
		log.Printf("[travel] matrix stops=%d fallbacks=%d", n, fallbacks)
	}
	return Matrix{Legs: legs, Snapshot: opt.NewTrafficSnapshot(time.Now(), observed), Fallbacks: int(fallbacks)}, nil
}

// Path returns the legs between consecutive points.
func (b *MatrixBuilder) Path(ctx context.Context, pts []opt.Coordinate) ([]opt.Leg, error) {
	if len(pts) < 2 {
		return nil, nil
	}
	out := make([]opt.Leg, len(pts)-1)
	var fallbacks int64
	g := new(errgroup.Group)
	g.SetLimit(b.limit())
	for i := range out {
		i := i
		g.Go(func() error {
			l, err := b.lookup(ctx, pts[i], pts[i+1], &fallbacks)
			if err != nil {
				return err
			}
			out[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
