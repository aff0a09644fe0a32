package opt

import "time"

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Stop is a place the route must visit. IDs are unique within a request.
type Stop struct {
	ID      string     `json:"id"`
	Name    string     `json:"name,omitempty"`
	Address string     `json:"address,omitempty"`
	Loc     Coordinate `json:"location"`
}

// Task is a unit of work at a stop. Timing fields are optional.
type Task struct {
	ID        string     `json:"id"`
	StopID    string     `json:"stopId"`
	Urgent    bool       `json:"urgent,omitempty"`
	Priority  int        `json:"priority,omitempty"`
	NotBefore *time.Time `json:"notBefore,omitempty"`
	NotAfter  *time.Time `json:"notAfter,omitempty"`
	Preferred *time.Time `json:"preferredTime,omitempty"`
}

// TimeWindow bounds the acceptable arrival at a stop.
type TimeWindow struct {
	EarliestStart time.Time  `json:"earliestStart"`
	LatestEnd     time.Time  `json:"latestEnd"`
	PreferredTime *time.Time `json:"preferredTime,omitempty"`
}

// Objective selects the base term of the route cost.
type Objective string

const (
	OptimizeTime     Objective = "time"
	OptimizeDistance Objective = "distance"
	OptimizeBalanced Objective = "balanced"
)

// Valid reports whether o is a known objective. The zero value is treated as balanced.
func (o Objective) Valid() bool {
	switch o {
	case "", OptimizeTime, OptimizeDistance, OptimizeBalanced:
		return true
	}
	return false
}

// Constraints are the caller's planning preferences.
type Constraints struct {
	OptimizeFor        Objective     `json:"optimizeFor"`
	AvoidTraffic       bool          `json:"avoidTraffic"`
	PriorityStops      []string      `json:"priorityStops,omitempty"`
	PreferredStartTime time.Time     `json:"preferredStartTime,omitempty"`
	MaxDuration        time.Duration `json:"maxDuration,omitempty"`
}

// Leg is the travel between two consecutive points of a route.
type Leg struct {
	Distance float64       `json:"distanceMeters"`
	Duration time.Duration `json:"duration"`
	Severity Severity      `json:"severity"`
}

// Waypoint is a stop placed on a route with its schedule.
type Waypoint struct {
	Stop               Stop          `json:"stop"`
	EstimatedArrival   time.Time     `json:"estimatedArrival"`
	EstimatedDeparture time.Time     `json:"estimatedDeparture"`
	Window             *TimeWindow   `json:"timeWindow,omitempty"`
	Priority           int           `json:"priority"`
	OnSite             time.Duration `json:"onSite"`
	Inbound            Leg           `json:"inbound"`
}

// Route is an ordered, evaluated visit plan. Arrivals are non-decreasing and
// every departure is no later than the next arrival.
type Route struct {
	Waypoints     []Waypoint    `json:"waypoints"`
	TotalDistance float64       `json:"totalDistanceMeters"`
	TotalDuration time.Duration `json:"totalDuration"`
	Efficiency    float64       `json:"efficiency"`
	Traffic       Severity      `json:"trafficConditions"`
	CalculatedAt  time.Time     `json:"calculatedAt"`
	Strategy      string        `json:"strategy,omitempty"`
}

// StopIDs returns the visit order as stop IDs.
func (r Route) StopIDs() []string {
	out := make([]string, len(r.Waypoints))
	for i, w := range r.Waypoints {
		out[i] = w.Stop.ID
	}
	return out
}

// EmptyRoute is the canonical route for an empty stop set.
func EmptyRoute(at time.Time) Route {
	return Route{Waypoints: []Waypoint{}, Efficiency: 1.0, Traffic: SeverityNormal, CalculatedAt: at}
}
