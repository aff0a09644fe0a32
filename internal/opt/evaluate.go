package opt

import (
	"time"
)

const (
	onSiteNormal   = 60 * time.Minute
	onSitePriority = 90 * time.Minute

	earlyWeight    = 2.0
	lateWeight     = 3.0
	overflowWeight = 3.0
	// priorityWeight is the cost reduction, in seconds, per priority point per
	// position the stop is moved forward.
	priorityWeight = 300.0
	timeShare      = 0.7
	distanceShare  = 0.3

	// PriorityRequested is the minimum weight of a stop named in Constraints.PriorityStops.
	PriorityRequested = 5

	minEfficiency = 0.01
)

// StartID is the pseudo stop ID of the start location in traffic snapshots.
const StartID = "@start"

// Problem is a fully analyzed instance ready for the strategies. Legs is an
// (n+1)x(n+1) table where index n is the start location.
type Problem struct {
	Stops       []Stop
	Start       *Coordinate
	Windows     []*TimeWindow
	Priorities  []int
	Constraints Constraints
	DepartAt    time.Time
	SpeedKph    float64

	legs        [][]Leg
	prioritized []bool
	requested   []int
	ceiling     float64
}

// NewProblem assembles a Problem. When legs is nil the model estimates them
// from snapshot (which may be nil).
func NewProblem(stops []Stop, an Analysis, c Constraints, start *Coordinate, departAt time.Time, legs [][]Leg, snapshot *TrafficSnapshot) *Problem {
	n := len(stops)
	p := &Problem{
		Stops:       stops,
		Start:       start,
		Windows:     make([]*TimeWindow, n),
		Priorities:  make([]int, n),
		Constraints: c,
		DepartAt:    departAt,
		SpeedKph:    DefaultSpeedKph,
		prioritized: make([]bool, n),
	}
	if p.Constraints.OptimizeFor == "" {
		p.Constraints.OptimizeFor = OptimizeBalanced
	}
	index := make(map[string]int, n)
	for i, s := range stops {
		index[s.ID] = i
		p.Windows[i] = an.Windows[s.ID]
		p.Priorities[i] = an.Priorities[s.ID]
	}
	seen := map[int]bool{}
	for _, id := range c.PriorityStops {
		i, ok := index[id]
		if !ok || seen[i] {
			continue
		}
		seen[i] = true
		p.requested = append(p.requested, i)
		if p.Priorities[i] < PriorityRequested {
			p.Priorities[i] = PriorityRequested
		}
	}
	for i := range stops {
		p.prioritized[i] = p.Priorities[i] > 0
		p.ceiling += float64(p.Priorities[i]) * priorityWeight * float64(n)
	}
	if legs == nil {
		legs = EstimateLegs(stops, start, snapshot, p.SpeedKph)
	}
	p.legs = legs
	return p
}

// EstimateLegs fills a leg table from the travel model, preferring observed
// legs in snapshot.
func EstimateLegs(stops []Stop, start *Coordinate, snapshot *TrafficSnapshot, speedKph float64) [][]Leg {
	n := len(stops)
	pts := make([]Coordinate, n+1)
	ids := make([]string, n+1)
	for i, s := range stops {
		pts[i] = s.Loc
		ids[i] = s.ID
	}
	ids[n] = StartID
	if start != nil {
		pts[n] = *start
	}
	legs := make([][]Leg, n+1)
	for i := range legs {
		legs[i] = make([]Leg, n+1)
		for j := range legs[i] {
			if i == j || (i == n && start == nil) {
				continue
			}
			if l, ok := snapshot.Lookup(ids[i], ids[j]); ok {
				legs[i][j] = l
				continue
			}
			legs[i][j] = EstimateLeg(pts[i], pts[j], SeverityNormal, speedKph)
		}
	}
	return legs
}

// Len is the number of stops.
func (p *Problem) Len() int { return len(p.Stops) }

// Leg returns the leg between stop indexes; from == p.Len() is the start.
func (p *Problem) Leg(from, to int) Leg { return p.legs[from][to] }

// Requested returns the stop indexes named in PriorityStops, in order.
func (p *Problem) Requested() []int { return append([]int(nil), p.requested...) }

// OnSite is the service time at stop i.
func (p *Problem) OnSite(i int) time.Duration {
	if p.prioritized[i] {
		return onSitePriority
	}
	return onSiteNormal
}

// legCost is the objective-weighted cost of a single leg.
func (p *Problem) legCost(l Leg) float64 {
	switch p.Constraints.OptimizeFor {
	case OptimizeTime:
		return l.Duration.Seconds()
	case OptimizeDistance:
		return l.Distance
	default:
		return timeShare*l.Duration.Seconds() + distanceShare*l.Distance
	}
}

// windowPenalty scores arriving at stop i at t.
func (p *Problem) windowPenalty(i int, t time.Time) (early, late float64) {
	w := p.Windows[i]
	if w == nil {
		return 0, 0
	}
	if t.Before(w.EarliestStart) {
		early = w.EarliestStart.Sub(t).Seconds()
	}
	if t.After(w.LatestEnd) {
		late = t.Sub(w.LatestEnd).Seconds()
	}
	return early, late
}

// walker accumulates cost terms along a partial order.
type walker struct {
	p          *Problem
	t          time.Time
	prev       int
	pos        int
	dist       float64
	early      float64
	late       float64
	congestion float64
	bonus      float64
}

func newWalker(p *Problem) walker {
	prev := -1
	if p.Start != nil {
		prev = p.Len()
	}
	return walker{p: p, t: p.DepartAt, prev: prev}
}

func (w *walker) visit(i int) Waypoint {
	p := w.p
	var leg Leg
	if w.prev >= 0 {
		leg = p.legs[w.prev][i]
	}
	w.dist += leg.Distance
	arrival := w.t.Add(leg.Duration)
	if f := leg.Severity.Factor(); p.Constraints.AvoidTraffic && f > 1 {
		w.congestion += (f - 1) * leg.Duration.Seconds()
	}
	e, l := p.windowPenalty(i, arrival)
	w.early += e
	w.late += l
	w.bonus += float64(p.Priorities[i]) * priorityWeight * float64(p.Len()-w.pos)
	onSite := p.OnSite(i)
	w.t = arrival.Add(onSite)
	w.prev = i
	w.pos++
	return Waypoint{
		Stop:               p.Stops[i],
		EstimatedArrival:   arrival,
		EstimatedDeparture: w.t,
		Window:             p.Windows[i],
		Priority:           p.Priorities[i],
		OnSite:             onSite,
		Inbound:            leg,
	}
}

func (w *walker) elapsed() float64 { return w.t.Sub(w.p.DepartAt).Seconds() }

func (w *walker) cost() float64 {
	p := w.p
	elapsed := w.elapsed()
	var base float64
	switch p.Constraints.OptimizeFor {
	case OptimizeTime:
		base = elapsed
	case OptimizeDistance:
		base = w.dist
	default:
		base = timeShare*elapsed + distanceShare*w.dist
	}
	c := base + earlyWeight*w.early + lateWeight*w.late + w.congestion - w.bonus
	if limit := p.Constraints.MaxDuration.Seconds(); limit > 0 && elapsed > limit {
		c += overflowWeight * (elapsed - limit)
	}
	return c
}

// Score is the cost of visiting stops in order. Lower is better.
func (p *Problem) Score(order []int) float64 {
	w := newWalker(p)
	for _, i := range order {
		w.visit(i)
	}
	return w.cost()
}

// BonusCeiling bounds the total priority reduction any order can earn, so
// Score(order)+BonusCeiling() is never negative.
func (p *Problem) BonusCeiling() float64 { return p.ceiling }

// Evaluate schedules order and computes the route summary. It never fails; an
// empty order yields the canonical empty route.
func (p *Problem) Evaluate(order []int, at time.Time) Route {
	if len(order) == 0 {
		return EmptyRoute(at)
	}
	w := newWalker(p)
	wps := make([]Waypoint, 0, len(order))
	counts := map[Severity]int{}
	for k, i := range order {
		wp := w.visit(i)
		if k > 0 || p.Start != nil {
			counts[wp.Inbound.Severity]++
		}
		wps = append(wps, wp)
	}
	origin := wps[0].Stop.Loc
	if p.Start != nil {
		origin = *p.Start
	}
	return Route{
		Waypoints:     wps,
		TotalDistance: w.dist,
		TotalDuration: w.t.Sub(p.DepartAt),
		Efficiency:    efficiency(Distance(origin, wps[len(wps)-1].Stop.Loc), w.dist),
		Traffic:       dominant(counts),
		CalculatedAt:  at,
	}
}

func efficiency(direct, actual float64) float64 {
	if actual <= 0 {
		return 1.0
	}
	e := direct / actual
	if e > 1 {
		return 1.0
	}
	if e < minEfficiency {
		return minEfficiency
	}
	return e
}

// dominant picks the most frequent severity; ties go to the worse one.
func dominant(counts map[Severity]int) Severity {
	best, n := SeverityNormal, 0
	for _, s := range severityOrder {
		if c := counts[s]; c > 0 && c >= n {
			best, n = s, c
		}
	}
	return best
}
