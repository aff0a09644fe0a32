package opt

import (
	"context"
	"math"
)

// Greedy builds the route one stop at a time. Requested priority stops are
// placed first in the order they were named; each remaining step takes the
// stop minimizing travel cost + window penalty - priority bonus + Lookahead *
// the cheapest onward hop from it.
type Greedy struct {
	Lookahead float64
}

func (g *Greedy) Name() string { return NameGreedy }

func (g *Greedy) Solve(ctx context.Context, p *Problem) []int {
	n := p.Len()
	visited := make([]bool, n)
	order := make([]int, 0, n)
	w := newWalker(p)
	for _, i := range p.Requested() {
		visited[i] = true
		order = append(order, i)
		w.visit(i)
	}
	for len(order) < n {
		if ctx.Err() != nil {
			break
		}
		pick, best := -1, math.Inf(1)
		for c := 0; c < n; c++ {
			if visited[c] {
				continue
			}
			s := g.stepCost(p, &w, c, visited)
			if s < best || (s == best && pick >= 0 && p.Stops[c].ID < p.Stops[pick].ID) {
				pick, best = c, s
			}
		}
		visited[pick] = true
		order = append(order, pick)
		w.visit(pick)
	}
	// cancellation leaves a prefix; append the rest in index order
	for i := 0; i < n; i++ {
		if !visited[i] {
			order = append(order, i)
		}
	}
	return order
}

func (g *Greedy) stepCost(p *Problem, w *walker, c int, visited []bool) float64 {
	var leg Leg
	if w.prev >= 0 {
		leg = p.Leg(w.prev, c)
	}
	e, l := p.windowPenalty(c, w.t.Add(leg.Duration))
	cost := p.legCost(leg) + earlyWeight*e + lateWeight*l - float64(p.Priorities[c])*priorityWeight

	onward := math.Inf(1)
	for o := range visited {
		if o == c || visited[o] {
			continue
		}
		if v := p.legCost(p.Leg(c, o)); v < onward {
			onward = v
		}
	}
	if !math.IsInf(onward, 1) {
		cost += g.Lookahead * onward
	}
	return cost
}
