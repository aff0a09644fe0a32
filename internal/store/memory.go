package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu     sync.Mutex
	stops  map[string]map[string]opt.Stop   // tenant -> stop id -> stop
	tasks  map[string]map[string][]opt.Task // tenant -> stop id -> tasks
	routes map[string]model.PlannedRoute    // route id -> route
	byTen  map[string][]string              // tenant -> route ids, oldest first
}

func NewMemory() *Memory {
	return &Memory{
		stops:  map[string]map[string]opt.Stop{},
		tasks:  map[string]map[string][]opt.Task{},
		routes: map[string]model.PlannedRoute{},
		byTen:  map[string][]string{},
	}
}

func (m *Memory) UpsertStops(ctx context.Context, tenantID string, stops []opt.Stop) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stops[tenantID] == nil {
		m.stops[tenantID] = map[string]opt.Stop{}
	}
	created, updated := 0, 0
	for _, s := range stops {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if _, ok := m.stops[tenantID][s.ID]; ok {
			updated++
		} else {
			created++
		}
		m.stops[tenantID][s.ID] = s
	}
	return created, updated, nil
}

func (m *Memory) ListStops(ctx context.Context, tenantID string, ids []string) ([]opt.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cat := m.stops[tenantID]
	if len(ids) == 0 {
		out := make([]opt.Stop, 0, len(cat))
		for _, s := range cat {
			out = append(out, s)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}
	out := make([]opt.Stop, 0, len(ids))
	for _, id := range ids {
		s, ok := cat[id]
		if !ok {
			return nil, fmt.Errorf("stop %s: %w", id, ErrNotFound)
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) CreateTasks(ctx context.Context, tenantID string, tasks []opt.Task) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		if _, ok := m.stops[tenantID][t.StopID]; !ok {
			return 0, fmt.Errorf("task %s stop %s: %w", t.ID, t.StopID, ErrUnknownTaskStop)
		}
	}
	if m.tasks[tenantID] == nil {
		m.tasks[tenantID] = map[string][]opt.Task{}
	}
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		m.tasks[tenantID][t.StopID] = append(m.tasks[tenantID][t.StopID], t)
	}
	return len(tasks), nil
}

func (m *Memory) TasksForStops(ctx context.Context, tenantID string, stopIDs []string) ([]opt.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []opt.Task
	for _, id := range stopIDs {
		out = append(out, m.tasks[tenantID][id]...)
	}
	return out, nil
}

func (m *Memory) SaveRoute(ctx context.Context, pr model.PlannedRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = now
	}
	pr.UpdatedAt = now
	if pr.Version == 0 {
		pr.Version = 1
	}
	if _, ok := m.routes[pr.ID]; !ok {
		m.byTen[pr.TenantID] = append(m.byTen[pr.TenantID], pr.ID)
	}
	m.routes[pr.ID] = pr
	return nil
}

func (m *Memory) get(tenantID, routeID string) (model.PlannedRoute, error) {
	pr, ok := m.routes[routeID]
	if !ok || pr.TenantID != tenantID {
		return model.PlannedRoute{}, ErrNotFound
	}
	return pr, nil
}

func (m *Memory) GetRoute(ctx context.Context, tenantID, routeID string) (model.PlannedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(tenantID, routeID)
}

// ListRoutes pages newest first; the cursor is the index of the next item.
func (m *Memory) ListRoutes(ctx context.Context, tenantID, cursor string, limit int) ([]model.PlannedRoute, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	ids := m.byTen[tenantID]
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	out := []model.PlannedRoute{}
	i := start
	for ; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.routes[ids[len(ids)-1-i]])
	}
	next := ""
	if i < len(ids) {
		next = fmt.Sprintf("%d", i)
	}
	return out, next, nil
}

func (m *Memory) RecordProgress(ctx context.Context, tenantID, routeID string, completed []string, loc opt.Coordinate, at time.Time) (model.PlannedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, err := m.get(tenantID, routeID)
	if err != nil {
		return pr, err
	}
	pr.Completed = mergeCompleted(pr.Completed, completed)
	pr.LastLocation = &model.GeoPoint{Lat: loc.Lat, Lng: loc.Lng}
	at = at.UTC()
	pr.LastSeenAt = &at
	pr.UpdatedAt = at
	m.routes[routeID] = pr
	return pr, nil
}

// ReplaceRoute swaps in a re-planned route for the unvisited stops. Completed
// waypoints of the old route are kept in front.
func (m *Memory) ReplaceRoute(ctx context.Context, tenantID, routeID string, r opt.Route) (model.PlannedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, err := m.get(tenantID, routeID)
	if err != nil {
		return pr, err
	}
	pr.Route = splice(pr.Route, pr.CompletedSet(), r)
	pr.Version++
	pr.UpdatedAt = time.Now().UTC()
	m.routes[routeID] = pr
	return pr, nil
}
