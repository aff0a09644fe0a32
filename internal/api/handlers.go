package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
	"fieldroute/internal/planner"
)

func toStop(in model.StopIn) opt.Stop {
	s := opt.Stop{ID: in.ID, Name: in.Name, Address: in.Address}
	if in.Location != nil {
		s.Loc = in.Location.Coordinate()
	}
	return s
}

func toTask(in model.TaskIn) opt.Task {
	return opt.Task{
		ID:        in.ID,
		StopID:    in.StopID,
		Urgent:    in.Urgent,
		Priority:  in.Priority,
		NotBefore: in.NotBefore,
		NotAfter:  in.NotAfter,
		Preferred: in.PreferredTime,
	}
}

// StopsHandler handles POST/GET /v1/stops
func (s *Server) StopsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodPost:
		var req model.ImportRequest
		if err := decodeJSON(r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateImport(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid import", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = tenant
		}
		stops := make([]opt.Stop, len(req.Stops))
		ids := make([]string, len(req.Stops))
		for i, in := range req.Stops {
			if in.ID == "" {
				in.ID = uuid.NewString()
			}
			stops[i] = toStop(in)
			ids[i] = in.ID
		}
		created, updated, err := s.Store.UpsertStops(ctx, req.TenantID, stops)
		if err != nil {
			writeError(w, r, "Import stops failed", err)
			return
		}
		tasks := make([]opt.Task, len(req.Tasks))
		for i, in := range req.Tasks {
			tasks[i] = toTask(in)
		}
		n, err := s.Store.CreateTasks(ctx, req.TenantID, tasks)
		if err != nil {
			writeError(w, r, "Import tasks failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stopIds": ids, "created": created, "updated": updated, "tasks": n})
	case http.MethodGet:
		var ids []string
		if v := r.URL.Query().Get("ids"); v != "" {
			ids = strings.Split(v, ",")
		}
		items, err := s.Store.ListStops(ctx, tenant, ids)
		if err != nil {
			writeError(w, r, "List stops failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	if req.TenantID == "" {
		req.TenantID = tenant
	}

	var stops []opt.Stop
	var tasks []opt.Task
	if len(req.StopIDs) > 0 {
		var err error
		if stops, err = s.Store.ListStops(ctx, req.TenantID, req.StopIDs); err != nil {
			writeError(w, r, "Resolve stops failed", err)
			return
		}
		if tasks, err = s.Store.TasksForStops(ctx, req.TenantID, req.StopIDs); err != nil {
			writeError(w, r, "Resolve tasks failed", err)
			return
		}
	}
	for _, in := range req.Stops {
		stops = append(stops, toStop(in))
	}
	for _, in := range req.Tasks {
		tasks = append(tasks, toTask(in))
	}

	preq := planner.Request{
		Stops:       stops,
		Tasks:       tasks,
		Constraints: req.Constraints.Constraints(),
		Strategy:    req.Strategy,
		NoCache:     req.NoCache,
	}
	if req.Start != nil {
		c := req.Start.Coordinate()
		preq.Start = &c
	}
	route, err := s.Planner.Optimize(ctx, preq)
	if err != nil {
		writeError(w, r, "Optimize failed", err)
		return
	}

	now := s.now().UTC()
	pr := model.PlannedRoute{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Version:     1,
		Constraints: preq.Constraints,
		Route:       route,
		Completed:   []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Store.SaveRoute(ctx, pr); err != nil {
		writeError(w, r, "Save route failed", err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// OptimizerConfigHandler returns the effective planner configuration.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c := s.Planner.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies":     c.Settings,
		"dayEndHour":     c.DayEndHour,
		"speedKph":       c.SpeedKph,
		"concurrency":    c.Concurrency,
		"callTimeoutMs":  c.CallTimeout.Milliseconds(),
		"cacheTtlSec":    int(c.CacheTTL.Seconds()),
		"lateAfterSec":   int(c.LateAfter.Seconds()),
		"trafficShift":   c.TrafficShift,
		"minImprovement": c.MinImprovement,
		"objectives":     []opt.Objective{opt.OptimizeTime, opt.OptimizeDistance, opt.OptimizeBalanced},
	})
}

// AdminCacheHandler handles DELETE /v1/admin/cache
func (s *Server) AdminCacheHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.Planner.ClearCache(r.Context()); err != nil {
		writeError(w, r, "Clear cache failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RoutesIndexHandler handles GET /v1/routes
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer", r.URL.Path)
			return
		}
		limit = n
	}
	items, next, err := s.Store.ListRoutes(ctx, tenant, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, r, "List routes failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RouteByIDHandler handles GET /v1/routes/{id} and its sub-resources:
// /directions, /progress, /events/stream and /ws.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/routes/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	id := parts[0]
	sub := strings.Join(parts[1:], "/")
	ctx, tenant := s.withTenant(r)

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		pr, err := s.Store.GetRoute(ctx, tenant, id)
		if err != nil {
			writeError(w, r, "Route not found", err)
			return
		}
		writeJSON(w, http.StatusOK, pr)
	case "directions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req model.DirectionsRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), path)
			return
		}
		if req.Start != nil {
			if err := validatePoint("start", req.Start); err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid directions request", err.Error(), path)
				return
			}
		}
		pr, err := s.Store.GetRoute(ctx, tenant, id)
		if err != nil {
			writeError(w, r, "Route not found", err)
			return
		}
		var start *opt.Coordinate
		if req.Start != nil {
			c := req.Start.Coordinate()
			start = &c
		}
		segs, err := s.Planner.GetDirections(ctx, pr.Route, start)
		if err != nil {
			writeError(w, r, "Directions failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"routeId": id, "segments": segs})
	case "progress":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req model.ProgressRequest
		if err := decodeJSON(r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), path)
			return
		}
		res, err := s.applyProgress(ctx, tenant, id, req)
		if err != nil {
			writeError(w, r, "Progress failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "events/stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, err := s.Store.GetRoute(ctx, tenant, id); err != nil {
			writeError(w, r, "Route not found", err)
			return
		}
		s.streamEvents(w, r, id)
	case "ws":
		if _, err := s.Store.GetRoute(ctx, tenant, id); err != nil {
			writeError(w, r, "Route not found", err)
			return
		}
		s.progressSocket(w, r, tenant, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

// streamEvents writes route events as server-sent events with a heartbeat
// every 15s.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", id, s.now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// ProgressResult is the reply to a progress report.
type ProgressResult struct {
	Route      model.PlannedRoute  `json:"route"`
	Adjustment *planner.Adjustment `json:"adjustment,omitempty"`
	Accepted   bool                `json:"accepted"`
}

// applyProgress records a progress report, runs the monitor and publishes
// what it finds. With Accept set a suggested route replaces the stored one.
func (s *Server) applyProgress(ctx context.Context, tenant, id string, req model.ProgressRequest) (ProgressResult, error) {
	if err := validateProgress(&req); err != nil {
		return ProgressResult{}, err
	}
	loc := req.Location.Coordinate()
	pr, err := s.Store.RecordProgress(ctx, tenant, id, req.CompletedStops, loc, s.now())
	if err != nil {
		return ProgressResult{}, err
	}
	s.Broker.Publish(id, SSEEvent{Type: "route.progress", Data: map[string]any{
		"routeId":        id,
		"completedStops": pr.Completed,
		"location":       pr.LastLocation,
	}})

	adj, err := s.Planner.MonitorProgress(ctx, pr.Route, loc, pr.CompletedSet())
	if err != nil {
		return ProgressResult{}, fmt.Errorf("monitor route %s: %w", id, err)
	}
	res := ProgressResult{Route: pr, Adjustment: adj}
	if adj == nil {
		return res, nil
	}
	s.Broker.Publish(id, SSEEvent{Type: "route.adjusted", Data: map[string]any{
		"routeId":      id,
		"reason":       adj.Reason,
		"timeSavedSec": int(adj.TimeSaved.Seconds()),
		"stopIds":      adj.SuggestedRoute.StopIDs(),
	}})
	if !req.Accept {
		return res, nil
	}
	if res.Route, err = s.Store.ReplaceRoute(ctx, tenant, id, adj.SuggestedRoute); err != nil {
		return ProgressResult{}, fmt.Errorf("replace route %s: %w", id, err)
	}
	res.Accepted = true
	s.Broker.Publish(id, SSEEvent{Type: "route.replaced", Data: map[string]any{
		"routeId": id,
		"version": res.Route.Version,
	}})
	return res, nil
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check backing services when they are remote
	type pinger interface{ Ping(ctx context.Context) error }
	for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
		pg, ok := dep.(pinger)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := pg.Ping(ctx)
		cancel()
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
