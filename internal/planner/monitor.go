package planner

import (
	"context"
	"log"
	"time"

	"fieldroute/internal/metrics"
	"fieldroute/internal/opt"
	"fieldroute/internal/travel"
)

// Reason explains why an adjustment was suggested.
type Reason string

const (
	ReasonRunningLate   Reason = "running_late"
	ReasonTrafficChange Reason = "traffic_change"
)

// Adjustment is a suggested replacement for the rest of a route.
type Adjustment struct {
	Reason         Reason        `json:"reason"`
	SuggestedRoute opt.Route     `json:"suggestedRoute"`
	TimeSaved      time.Duration `json:"timeSaved"`
}

// TrafficCheck decides whether traffic on the unvisited part of a route has
// changed enough to consider re-planning. next indexes the first unvisited
// waypoint.
type TrafficCheck interface {
	Shifted(ctx context.Context, route opt.Route, next int, current opt.Coordinate) (bool, error)
}

// LegComparison re-fetches the remaining legs and compares them to the legs
// the route was planned with. Traffic has shifted when any leg got two or more
// severity levels worse, or when the legs between remaining stops are
// collectively Shift slower.
type LegComparison struct {
	Matrix *travel.MatrixBuilder
	Shift  float64
}

func (c *LegComparison) Shifted(ctx context.Context, route opt.Route, next int, current opt.Coordinate) (bool, error) {
	rest := route.Waypoints[next:]
	pts := make([]opt.Coordinate, 0, len(rest)+1)
	pts = append(pts, current)
	for _, wp := range rest {
		pts = append(pts, wp.Stop.Loc)
	}
	fresh, err := c.Matrix.Path(ctx, pts)
	if err != nil {
		return false, err
	}
	var planned, observed time.Duration
	for k, l := range fresh {
		was := rest[k].Inbound
		if l.Severity.Rank()-was.Severity.Rank() >= 2 {
			return true, nil
		}
		// the first leg starts wherever the driver is now, so only its
		// severity is comparable
		if k == 0 {
			continue
		}
		planned += was.Duration
		observed += l.Duration
	}
	return planned > 0 && float64(observed) >= float64(planned)*(1+c.Shift), nil
}

// MonitorProgress compares the driver's progress with the plan. It suggests
// a time-optimized re-plan when the driver is more than LateAfter behind the
// next arrival, or a traffic-avoiding re-plan when traffic shifted and the
// new plan is at least MinImprovement shorter. It returns nil when the route
// is complete or no change is worthwhile.
func (p *Planner) MonitorProgress(ctx context.Context, route opt.Route, current opt.Coordinate, completed map[string]bool) (*Adjustment, error) {
	next := -1
	for i, wp := range route.Waypoints {
		if !completed[wp.Stop.ID] {
			next = i
			break
		}
	}
	if next < 0 {
		return nil, nil
	}
	now := p.now()
	req := remainingRequest(route, next, completed, current, now)

	if now.After(route.Waypoints[next].EstimatedArrival.Add(p.cfg.LateAfter)) {
		req.Constraints.OptimizeFor = opt.OptimizeTime
		suggested, kept, err := p.replan(ctx, req)
		if err != nil {
			return nil, err
		}
		saved := kept.TotalDuration - suggested.TotalDuration
		if saved < 0 {
			saved = 0
		}
		metrics.Adjustments.WithLabelValues(string(ReasonRunningLate)).Inc()
		log.Printf("[monitor] running late stop=%s behind=%s saved=%s",
			route.Waypoints[next].Stop.ID, now.Sub(route.Waypoints[next].EstimatedArrival).Round(time.Second), saved)
		return &Adjustment{Reason: ReasonRunningLate, SuggestedRoute: suggested, TimeSaved: saved}, nil
	}

	shifted, err := p.traffic.Shifted(ctx, route, next, current)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[monitor] traffic check failed err=%v", err)
		return nil, nil
	}
	if !shifted {
		return nil, nil
	}
	req.Constraints.AvoidTraffic = true
	suggested, kept, err := p.replan(ctx, req)
	if err != nil {
		return nil, err
	}
	if float64(suggested.TotalDuration) > float64(kept.TotalDuration)*(1-p.cfg.MinImprovement) {
		log.Printf("[monitor] traffic changed but re-plan not worthwhile kept=%s suggested=%s", kept.TotalDuration, suggested.TotalDuration)
		return nil, nil
	}
	metrics.Adjustments.WithLabelValues(string(ReasonTrafficChange)).Inc()
	return &Adjustment{
		Reason:         ReasonTrafficChange,
		SuggestedRoute: suggested,
		TimeSaved:      kept.TotalDuration - suggested.TotalDuration,
	}, nil
}

// replan optimizes the remaining stops from the current position and also
// scores the current order under the same fresh conditions.
func (p *Planner) replan(ctx context.Context, req Request) (suggested, kept opt.Route, err error) {
	suggested, prob, err := p.solve(ctx, req)
	if err != nil {
		return opt.Route{}, opt.Route{}, err
	}
	order := make([]int, prob.Len())
	for i := range order {
		order[i] = i
	}
	return suggested, prob.Evaluate(order, suggested.CalculatedAt), nil
}

// remainingRequest rebuilds a request for the unvisited stops in their
// planned order, carrying their windows and priorities as tasks.
func remainingRequest(route opt.Route, next int, completed map[string]bool, current opt.Coordinate, now time.Time) Request {
	req := Request{Start: &current, NoCache: true}
	req.Constraints.PreferredStartTime = now
	for _, wp := range route.Waypoints[next:] {
		if completed[wp.Stop.ID] {
			continue
		}
		req.Stops = append(req.Stops, wp.Stop)
		t := opt.Task{ID: "carry-" + wp.Stop.ID, StopID: wp.Stop.ID, Priority: wp.Priority}
		if wp.Window != nil {
			nb, na := wp.Window.EarliestStart, wp.Window.LatestEnd
			t.NotBefore, t.NotAfter = &nb, &na
			t.Preferred = wp.Window.PreferredTime
		}
		req.Tasks = append(req.Tasks, t)
	}
	return req
}
