// Package travel looks up road travel between coordinates and turns those
// lookups into the leg tables the optimizer consumes.
package travel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldroute/internal/opt"
)

// ErrNoRoute is returned when a provider has no route between two points.
var ErrNoRoute = errors.New("no route")

// Step is one turn-by-turn instruction.
type Step struct {
	Instruction string        `json:"instruction"`
	Street      string        `json:"street,omitempty"`
	Distance    float64       `json:"distanceMeters"`
	Duration    time.Duration `json:"duration"`
}

// Result is a provider answer for a single origin/destination pair.
type Result struct {
	Distance float64
	Duration time.Duration
	Severity opt.Severity
	Steps    []Step
}

// Leg converts the result into an optimizer leg.
func (r Result) Leg() opt.Leg {
	return opt.Leg{Distance: r.Distance, Duration: r.Duration, Severity: r.Severity}
}

// Provider returns travel between two coordinates.
type Provider interface {
	Route(ctx context.Context, from, to opt.Coordinate) (Result, error)
}

// StraightLine answers from the geometry model. It has no instructions and
// reports normal traffic everywhere.
type StraightLine struct {
	SpeedKph float64
}

func (s StraightLine) Route(ctx context.Context, from, to opt.Coordinate) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	l := opt.EstimateLeg(from, to, opt.SeverityNormal, s.SpeedKph)
	return Result{Distance: l.Distance, Duration: l.Duration, Severity: l.Severity}, nil
}

// StatusError is a non-2xx answer from an HTTP provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}
