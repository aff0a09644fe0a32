package opt

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// DefaultSpeedKph is the free-flow speed of the travel model.
const DefaultSpeedKph = 50.0

// Severity classifies traffic on a leg.
type Severity string

const (
	SeverityLight    Severity = "light"
	SeverityNormal   Severity = "normal"
	SeverityModerate Severity = "moderate"
	SeverityHeavy    Severity = "heavy"
	SeveritySevere   Severity = "severe"
)

var severityOrder = []Severity{SeverityLight, SeverityNormal, SeverityModerate, SeverityHeavy, SeveritySevere}

// Factor is the travel time multiplier for the severity. Unknown values count as normal.
func (s Severity) Factor() float64 {
	switch s {
	case SeverityLight:
		return 0.9
	case SeverityModerate:
		return 1.3
	case SeverityHeavy:
		return 1.8
	case SeveritySevere:
		return 2.5
	default:
		return 1.0
	}
}

// Rank orders severities from light (0) to severe (4).
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return 1
}

// ClassifySeverity maps an observed/free-flow duration ratio to a severity.
func ClassifySeverity(ratio float64) Severity {
	switch {
	case ratio <= 0:
		return SeverityNormal
	case ratio < 0.95:
		return SeverityLight
	case ratio < 1.15:
		return SeverityNormal
	case ratio < 1.5:
		return SeverityModerate
	case ratio < 2.1:
		return SeverityHeavy
	default:
		return SeveritySevere
	}
}

// Distance returns the great-circle distance in meters.
func Distance(a, b Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// FreeFlow is the travel time for meters at speedKph without traffic.
func FreeFlow(meters, speedKph float64) time.Duration {
	if speedKph <= 0 {
		speedKph = DefaultSpeedKph
	}
	secs := meters / (speedKph / 3.6)
	return time.Duration(secs * float64(time.Second))
}

// TravelTime estimates the drive between a and b under sev.
func TravelTime(a, b Coordinate, sev Severity, speedKph float64) time.Duration {
	base := FreeFlow(Distance(a, b), speedKph)
	return time.Duration(float64(base) * sev.Factor())
}

// EstimateLeg is the model-only leg between a and b.
func EstimateLeg(a, b Coordinate, sev Severity, speedKph float64) Leg {
	if sev == "" {
		sev = SeverityNormal
	}
	return Leg{Distance: Distance(a, b), Duration: TravelTime(a, b, sev, speedKph), Severity: sev}
}

// TrafficSnapshot holds observed legs keyed by stop ID pair. It is never
// mutated after construction; refreshes replace it wholesale.
type TrafficSnapshot struct {
	CapturedAt time.Time
	legs       map[string]Leg
}

// NewTrafficSnapshot copies legs (keyed by PairKey) into a snapshot.
func NewTrafficSnapshot(at time.Time, legs map[string]Leg) *TrafficSnapshot {
	cp := make(map[string]Leg, len(legs))
	for k, v := range legs {
		cp[k] = v
	}
	return &TrafficSnapshot{CapturedAt: at, legs: cp}
}

// PairKey is the snapshot key for the leg from -> to.
func PairKey(from, to string) string { return from + "|" + to }

// Lookup returns the observed leg from -> to, if any.
func (t *TrafficSnapshot) Lookup(from, to string) (Leg, bool) {
	if t == nil {
		return Leg{}, false
	}
	l, ok := t.legs[PairKey(from, to)]
	return l, ok
}

// Len is the number of observed legs.
func (t *TrafficSnapshot) Len() int {
	if t == nil {
		return 0
	}
	return len(t.legs)
}
