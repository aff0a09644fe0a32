package opt

import (
	"context"
	"math"
	"sort"
	"time"
)

// Exact enumerates permutations depth-first with branch and bound. Priority
// stops are tried first so a good incumbent appears early. The search stops
// at Budget (or ctx cancellation) and returns the best complete order found.
type Exact struct {
	Budget time.Duration

	// Nodes counts expanded branches of the last Solve.
	Nodes int
	// TimedOut reports whether the last Solve hit its deadline.
	TimedOut bool
}

func (e *Exact) Name() string { return NameExact }

func (e *Exact) Solve(ctx context.Context, p *Problem) []int {
	n := p.Len()
	e.Nodes, e.TimedOut = 0, false
	if n <= 1 {
		return identity(n)
	}
	deadline := time.Now().Add(e.Budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	cand := identity(n)
	sort.SliceStable(cand, func(a, b int) bool { return p.Priorities[cand[a]] > p.Priorities[cand[b]] })

	best := math.Inf(1)
	var bestOrder []int
	used := make([]bool, n)
	order := make([]int, 0, n)
	remBonus := 0.0
	for i := 0; i < n; i++ {
		remBonus += float64(p.Priorities[i])
	}

	var dfs func(w walker, rem float64) bool
	dfs = func(w walker, rem float64) bool {
		e.Nodes++
		if ctx.Err() != nil || time.Now().After(deadline) {
			e.TimedOut = true
			return false
		}
		if len(order) == n {
			if c := w.cost(); c < best {
				best = c
				bestOrder = append(bestOrder[:0], order...)
			}
			return true
		}
		// lower bound: cost so far minus the largest bonus the rest could earn
		if bestOrder != nil && w.cost()-rem*priorityWeight*float64(n-w.pos) >= best {
			return true
		}
		for _, i := range cand {
			if used[i] {
				continue
			}
			used[i] = true
			order = append(order, i)
			next := w
			next.visit(i)
			ok := dfs(next, rem-float64(p.Priorities[i]))
			order = order[:len(order)-1]
			used[i] = false
			if !ok {
				return false
			}
		}
		return true
	}
	dfs(newWalker(p), remBonus)

	if bestOrder == nil {
		// deadline hit before any leaf; fall back to the candidate order
		return cand
	}
	return bestOrder
}
