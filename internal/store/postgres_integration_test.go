//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	ctx := t.Context()
	if err := p.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	tenant := "t_it_" + time.Now().Format("150405.000")
	if _, _, err := p.UpsertStops(ctx, tenant, []opt.Stop{{ID: "s1", Loc: opt.Coordinate{Lat: 1, Lng: 2}}}); err != nil {
		t.Fatalf("UpsertStops: %v", err)
	}
	if _, err := p.CreateTasks(ctx, tenant, []opt.Task{{ID: "t1", StopID: "s1", Urgent: true}}); err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}
	tasks, err := p.TasksForStops(ctx, tenant, []string{"s1"})
	if err != nil || len(tasks) != 1 || !tasks[0].Urgent {
		t.Fatalf("TasksForStops: %v %+v", err, tasks)
	}
	pr := model.PlannedRoute{ID: "7f1c2b1e-8d7a-4a52-9b1b-0b8f2f0b9a11", TenantID: tenant, Route: opt.EmptyRoute(time.Now())}
	if err := p.SaveRoute(ctx, pr); err != nil {
		t.Fatalf("SaveRoute: %v", err)
	}
	if _, err := p.RecordProgress(ctx, tenant, pr.ID, []string{"s1"}, opt.Coordinate{Lat: 1, Lng: 2}, time.Now()); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}
	got, err := p.GetRoute(ctx, tenant, pr.ID)
	if err != nil || len(got.Completed) != 1 || got.LastLocation == nil {
		t.Fatalf("GetRoute: %v %+v", err, got)
	}
	if _, _, err := p.ListRoutes(ctx, tenant, "", 1); err != nil {
		t.Fatalf("ListRoutes: %v", err)
	}
}
