package store

import (
	"context"
	"errors"
	"time"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
)

// Store is the persistence interface used by the API server. It holds the
// stop catalog, the tasks attached to stops, and planned routes with their
// progress.
type Store interface {
	// Catalog
	UpsertStops(ctx context.Context, tenantID string, stops []opt.Stop) (created, updated int, err error)
	ListStops(ctx context.Context, tenantID string, ids []string) ([]opt.Stop, error)
	CreateTasks(ctx context.Context, tenantID string, tasks []opt.Task) (int, error)
	TasksForStops(ctx context.Context, tenantID string, stopIDs []string) ([]opt.Task, error)

	// Routes
	SaveRoute(ctx context.Context, pr model.PlannedRoute) error
	GetRoute(ctx context.Context, tenantID, routeID string) (model.PlannedRoute, error)
	ListRoutes(ctx context.Context, tenantID, cursor string, limit int) ([]model.PlannedRoute, string, error)
	RecordProgress(ctx context.Context, tenantID, routeID string, completed []string, loc opt.Coordinate, at time.Time) (model.PlannedRoute, error)
	ReplaceRoute(ctx context.Context, tenantID, routeID string, r opt.Route) (model.PlannedRoute, error)
}

// ErrNotFound is returned when a stop or route does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownTaskStop is returned when a task references a stop not in the catalog.
var ErrUnknownTaskStop = errors.New("task references unknown stop")

func mergeCompleted(have, add []string) []string {
	seen := make(map[string]struct{}, len(have)+len(add))
	out := make([]string, 0, len(have)+len(add))
	for _, id := range append(append([]string(nil), have...), add...) {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// splice keeps the completed waypoints of old and appends next.
func splice(old opt.Route, completed map[string]bool, next opt.Route) opt.Route {
	out := next
	out.Waypoints = nil
	out.TotalDistance = 0
	for _, wp := range old.Waypoints {
		if completed[wp.Stop.ID] {
			out.Waypoints = append(out.Waypoints, wp)
			out.TotalDistance += wp.Inbound.Distance
		}
	}
	out.Waypoints = append(out.Waypoints, next.Waypoints...)
	out.TotalDistance += next.TotalDistance
	if len(out.Waypoints) > 0 {
		first := out.Waypoints[0]
		began := first.EstimatedArrival.Add(-first.Inbound.Duration)
		out.TotalDuration = out.Waypoints[len(out.Waypoints)-1].EstimatedDeparture.Sub(began)
	}
	return out
}
