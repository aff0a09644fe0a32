package opt

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Strategy names.
const (
	NameExact   = "exact"
	NameGenetic = "genetic"
	NameGreedy  = "greedy"
)

// Strategy orders the stops of a Problem. Implementations return a
// permutation of 0..n-1 and never fail on non-empty input.
type Strategy interface {
	Name() string
	Solve(ctx context.Context, p *Problem) []int
}

// Settings tunes strategy selection and the individual strategies.
type Settings struct {
	ExactMaxStops   int           `yaml:"exact_max_stops" json:"exactMaxStops"`
	GeneticMaxStops int           `yaml:"genetic_max_stops" json:"geneticMaxStops"`
	ExactBudget     time.Duration `yaml:"exact_budget" json:"exactBudget"`
	Population      int           `yaml:"population" json:"population"`
	Generations     int           `yaml:"generations" json:"generations"`
	MutationRate    float64       `yaml:"mutation_rate" json:"mutationRate"`
	Elite           int           `yaml:"elite" json:"elite"`
	Tournament      int           `yaml:"tournament" json:"tournament"`
	Lookahead       float64       `yaml:"lookahead" json:"lookahead"`
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64 `yaml:"seed" json:"seed"`
}

// DefaultSettings returns the standard tuning.
func DefaultSettings() Settings {
	return Settings{
		ExactMaxStops:   5,
		GeneticMaxStops: 15,
		ExactBudget:     5 * time.Second,
		Population:      50,
		Generations:     100,
		MutationRate:    0.1,
		Elite:           10,
		Tournament:      5,
		Lookahead:       0.3,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.ExactMaxStops <= 0 {
		s.ExactMaxStops = d.ExactMaxStops
	}
	if s.GeneticMaxStops <= 0 {
		s.GeneticMaxStops = d.GeneticMaxStops
	}
	if s.ExactBudget <= 0 {
		s.ExactBudget = d.ExactBudget
	}
	if s.Population <= 0 {
		s.Population = d.Population
	}
	if s.Generations <= 0 {
		s.Generations = d.Generations
	}
	if s.MutationRate <= 0 {
		s.MutationRate = d.MutationRate
	}
	if s.Elite <= 0 {
		s.Elite = d.Elite
	}
	if s.Elite > s.Population {
		s.Elite = s.Population
	}
	if s.Tournament <= 0 {
		s.Tournament = d.Tournament
	}
	if s.Lookahead <= 0 {
		s.Lookahead = d.Lookahead
	}
	return s
}

// SelectStrategy picks the strategy for n stops: exhaustive search for small
// sets, the genetic search for medium sets and the greedy builder above that.
func SelectStrategy(n int, s Settings) Strategy {
	s = s.withDefaults()
	switch {
	case n <= s.ExactMaxStops:
		return &Exact{Budget: s.ExactBudget}
	case n <= s.GeneticMaxStops:
		return NewGenetic(s)
	default:
		return &Greedy{Lookahead: s.Lookahead}
	}
}

// StrategyByName returns a named strategy, or SelectStrategy's choice when
// name is empty.
func StrategyByName(name string, n int, s Settings) (Strategy, error) {
	s = s.withDefaults()
	switch name {
	case "":
		return SelectStrategy(n, s), nil
	case NameExact:
		return &Exact{Budget: s.ExactBudget}, nil
	case NameGenetic:
		return NewGenetic(s), nil
	case NameGreedy:
		return &Greedy{Lookahead: s.Lookahead}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
