package model

import (
	"time"

	"fieldroute/internal/opt"
)

// Wire types of the HTTP API.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (g GeoPoint) Coordinate() opt.Coordinate { return opt.Coordinate{Lat: g.Lat, Lng: g.Lng} }

type StopIn struct {
	ID       string    `json:"id,omitempty"`
	Name     string    `json:"name,omitempty"`
	Address  string    `json:"address,omitempty"`
	Location *GeoPoint `json:"location"`
}

type TaskIn struct {
	ID            string     `json:"id,omitempty"`
	StopID        string     `json:"stopId"`
	Urgent        bool       `json:"urgent,omitempty"`
	Priority      int        `json:"priority,omitempty"`
	NotBefore     *time.Time `json:"notBefore,omitempty"`
	NotAfter      *time.Time `json:"notAfter,omitempty"`
	PreferredTime *time.Time `json:"preferredTime,omitempty"`
}

// ImportRequest loads stops and tasks into the catalog.
type ImportRequest struct {
	TenantID string   `json:"tenantId"`
	Stops    []StopIn `json:"stops"`
	Tasks    []TaskIn `json:"tasks,omitempty"`
}

type ConstraintsIn struct {
	OptimizeFor        string     `json:"optimizeFor,omitempty"`
	AvoidTraffic       bool       `json:"avoidTraffic,omitempty"`
	PriorityStops      []string   `json:"priorityStops,omitempty"`
	PreferredStartTime *time.Time `json:"preferredStartTime,omitempty"`
	MaxDurationMin     int        `json:"maxDurationMin,omitempty"`
}

// Constraints converts to the optimizer form.
func (c ConstraintsIn) Constraints() opt.Constraints {
	out := opt.Constraints{
		OptimizeFor:   opt.Objective(c.OptimizeFor),
		AvoidTraffic:  c.AvoidTraffic,
		PriorityStops: c.PriorityStops,
		MaxDuration:   time.Duration(c.MaxDurationMin) * time.Minute,
	}
	if c.PreferredStartTime != nil {
		out.PreferredStartTime = *c.PreferredStartTime
	}
	return out
}

// OptimizeRequest plans a route over catalog stops (StopIDs), inline stops,
// or both. Catalog tasks for the chosen stops are merged with inline tasks.
type OptimizeRequest struct {
	TenantID    string        `json:"tenantId"`
	StopIDs     []string      `json:"stopIds,omitempty"`
	Stops       []StopIn      `json:"stops,omitempty"`
	Tasks       []TaskIn      `json:"tasks,omitempty"`
	Start       *GeoPoint     `json:"start,omitempty"`
	Constraints ConstraintsIn `json:"constraints"`
	Strategy    string        `json:"strategy,omitempty"`
	NoCache     bool          `json:"noCache,omitempty"`
}

type DirectionsRequest struct {
	Start *GeoPoint `json:"start,omitempty"`
}

// ProgressRequest reports a driver's position. Accept replaces the stored
// route with the suggestion when one is produced.
type ProgressRequest struct {
	Location       GeoPoint `json:"location"`
	CompletedStops []string `json:"completedStops,omitempty"`
	Accept         bool     `json:"accept,omitempty"`
}

// PlannedRoute is a persisted optimization result and its progress.
type PlannedRoute struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	Version      int             `json:"version"`
	Constraints  opt.Constraints `json:"constraints"`
	Route        opt.Route       `json:"route"`
	Completed    []string        `json:"completedStops"`
	LastLocation *GeoPoint       `json:"lastLocation,omitempty"`
	LastSeenAt   *time.Time      `json:"lastSeenAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CompletedSet returns Completed as a lookup set.
func (p PlannedRoute) CompletedSet() map[string]bool {
	m := make(map[string]bool, len(p.Completed))
	for _, id := range p.Completed {
		m[id] = true
	}
	return m
}
