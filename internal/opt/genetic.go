package opt

import (
	"context"
	"math/rand"
	"sort"

	"github.com/MaxHalford/eaopt"
)

const (
	convergeTop      = 5
	convergeEpsilon  = 1e-12
	convergePatience = 10
)

// Genetic evolves permutations with order crossover and swap mutation.
// Elites survive unchanged, so the best cost never gets worse across
// generations.
type Genetic struct {
	Population   int
	Generations  int
	MutationRate float64
	Elite        int
	Tournament   int
	Seed         int64

	// OnGeneration, when set, receives the best cost after each generation.
	OnGeneration func(gen int, best float64)
}

// NewGenetic builds a Genetic from settings.
func NewGenetic(s Settings) *Genetic {
	s = s.withDefaults()
	return &Genetic{
		Population:   s.Population,
		Generations:  s.Generations,
		MutationRate: s.MutationRate,
		Elite:        s.Elite,
		Tournament:   s.Tournament,
		Seed:         s.Seed,
	}
}

func (g *Genetic) Name() string { return NameGenetic }

type individual struct {
	genome  eaopt.IntSlice
	cost    float64
	fitness float64
}

func (g *Genetic) Solve(ctx context.Context, p *Problem) []int {
	n := p.Len()
	if n <= 2 {
		return (&Exact{Budget: DefaultSettings().ExactBudget}).Solve(ctx, p)
	}
	rng := newRand(g.Seed)
	size := g.Population
	if size < 2 {
		size = 2
	}
	elite := g.Elite
	if elite > size {
		elite = size
	}
	offset := p.BonusCeiling()
	score := func(genome eaopt.IntSlice) individual {
		c := p.Score(genome)
		return individual{genome: genome, cost: c, fitness: 1 / (1 + c + offset)}
	}

	pop := make([]individual, size)
	for i := range pop {
		pop[i] = score(eaopt.IntSlice(rng.Perm(n)))
	}
	sortByFitness(pop)

	stable := 0
	for gen := 0; gen < g.Generations; gen++ {
		if ctx.Err() != nil {
			break
		}
		next := make([]individual, 0, size)
		next = append(next, pop[:elite]...)
		for len(next) < size {
			a := g.tournament(pop, rng)
			b := g.tournament(pop, rng)
			child := crossover(a.genome, b.genome, rng)
			if rng.Float64() < g.MutationRate {
				eaopt.MutPermute(child, 1, rng)
			}
			next = append(next, score(child))
		}
		sortByFitness(next)
		pop = next
		if g.OnGeneration != nil {
			g.OnGeneration(gen, pop[0].cost)
		}
		if topVariance(pop) < convergeEpsilon {
			stable++
			if stable >= convergePatience {
				break
			}
		} else {
			stable = 0
		}
	}
	return append([]int(nil), pop[0].genome...)
}

func (g *Genetic) tournament(pop []individual, rng *rand.Rand) individual {
	k := g.Tournament
	if k < 1 {
		k = 1
	}
	best := pop[rng.Intn(len(pop))]
	for i := 1; i < k; i++ {
		if c := pop[rng.Intn(len(pop))]; c.fitness > best.fitness {
			best = c
		}
	}
	return best
}

// crossover applies OX to copies of the parents and keeps the first child.
func crossover(a, b eaopt.IntSlice, rng *rand.Rand) eaopt.IntSlice {
	c1 := append(eaopt.IntSlice(nil), a...)
	c2 := append(eaopt.IntSlice(nil), b...)
	eaopt.CrossOX(c1, c2, rng)
	return c1
}

func sortByFitness(pop []individual) {
	sort.SliceStable(pop, func(i, j int) bool { return pop[i].fitness > pop[j].fitness })
}

func topVariance(pop []individual) float64 {
	k := convergeTop
	if k > len(pop) {
		k = len(pop)
	}
	var mean float64
	for _, ind := range pop[:k] {
		mean += ind.fitness
	}
	mean /= float64(k)
	var v float64
	for _, ind := range pop[:k] {
		d := ind.fitness - mean
		v += d * d
	}
	return v / float64(k)
}
