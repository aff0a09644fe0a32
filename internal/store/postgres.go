package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Close releases the pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertStops inserts or updates catalog stops. Dedup by (tenant_id, id).
func (p *Postgres) UpsertStops(ctx context.Context, tenantID string, stops []opt.Stop) (int, int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	created, updated := 0, 0
	for _, s := range stops {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		// xmax = 0 only for freshly inserted rows
		var inserted bool
		err := tx.QueryRowContext(ctx, `INSERT INTO stops (tenant_id, id, name, address, lat, lng)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (tenant_id, id) DO UPDATE SET name=EXCLUDED.name, address=EXCLUDED.address, lat=EXCLUDED.lat, lng=EXCLUDED.lng, updated_at=now()
			RETURNING (xmax = 0)`,
			tenantID, s.ID, nullIfEmpty(s.Name), nullIfEmpty(s.Address), s.Loc.Lat, s.Loc.Lng).Scan(&inserted)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert stop %s: %w", s.ID, err)
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

func (p *Postgres) ListStops(ctx context.Context, tenantID string, ids []string) ([]opt.Stop, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = p.db.QueryContext(ctx, `SELECT id, name, address, lat, lng FROM stops WHERE tenant_id=$1 ORDER BY id`, tenantID)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id, name, address, lat, lng FROM stops WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[string]opt.Stop{}
	var all []opt.Stop
	for rows.Next() {
		var s opt.Stop
		var name, addr sql.NullString
		if err := rows.Scan(&s.ID, &name, &addr, &s.Loc.Lat, &s.Loc.Lng); err != nil {
			return nil, err
		}
		s.Name, s.Address = name.String, addr.String
		found[s.ID] = s
		all = append(all, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		if all == nil {
			all = []opt.Stop{}
		}
		return all, nil
	}
	// keep the caller's order
	out := make([]opt.Stop, 0, len(ids))
	for _, id := range ids {
		s, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("stop %s: %w", id, ErrNotFound)
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *Postgres) CreateTasks(ctx context.Context, tenantID string, tasks []opt.Task) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	for _, t := range tasks {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stops WHERE tenant_id=$1 AND id=$2)`, tenantID, t.StopID).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, fmt.Errorf("task %s stop %s: %w", t.ID, t.StopID, ErrUnknownTaskStop)
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO tasks (tenant_id, id, stop_id, urgent, priority, not_before, not_after, preferred_time)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (tenant_id, id) DO UPDATE SET stop_id=EXCLUDED.stop_id, urgent=EXCLUDED.urgent, priority=EXCLUDED.priority,
			not_before=EXCLUDED.not_before, not_after=EXCLUDED.not_after, preferred_time=EXCLUDED.preferred_time`,
			tenantID, t.ID, t.StopID, t.Urgent, t.Priority, nullTime(t.NotBefore), nullTime(t.NotAfter), nullTime(t.Preferred))
		if err != nil {
			return 0, fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (p *Postgres) TasksForStops(ctx context.Context, tenantID string, stopIDs []string) ([]opt.Task, error) {
	if len(stopIDs) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, stop_id, urgent, priority, not_before, not_after, preferred_time
		FROM tasks WHERE tenant_id=$1 AND stop_id = ANY($2) ORDER BY stop_id, id`, tenantID, stopIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []opt.Task
	for rows.Next() {
		var t opt.Task
		var nb, na, pref sql.NullTime
		if err := rows.Scan(&t.ID, &t.StopID, &t.Urgent, &t.Priority, &nb, &na, &pref); err != nil {
			return nil, err
		}
		t.NotBefore, t.NotAfter, t.Preferred = timePtr(nb), timePtr(na), timePtr(pref)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveRoute(ctx context.Context, pr model.PlannedRoute) error {
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	if pr.Version == 0 {
		pr.Version = 1
	}
	cons, err := json.Marshal(pr.Constraints)
	if err != nil {
		return err
	}
	rt, err := json.Marshal(pr.Route)
	if err != nil {
		return err
	}
	done, err := json.Marshal(mergeCompleted(nil, pr.Completed))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO planned_routes (id, tenant_id, version, constraints, route, completed)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET version=EXCLUDED.version, constraints=EXCLUDED.constraints, route=EXCLUDED.route, completed=EXCLUDED.completed, updated_at=now()`,
		pr.ID, pr.TenantID, pr.Version, cons, rt, done)
	return err
}

const routeColumns = `id::text, tenant_id, version, constraints, route, completed, last_lat, last_lng, last_seen_at, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanRoute(row rowScanner) (model.PlannedRoute, error) {
	var pr model.PlannedRoute
	var cons, rt, done []byte
	var lat, lng sql.NullFloat64
	var seen sql.NullTime
	if err := row.Scan(&pr.ID, &pr.TenantID, &pr.Version, &cons, &rt, &done, &lat, &lng, &seen, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pr, ErrNotFound
		}
		return pr, err
	}
	if err := json.Unmarshal(cons, &pr.Constraints); err != nil {
		return pr, fmt.Errorf("decode constraints: %w", err)
	}
	if err := json.Unmarshal(rt, &pr.Route); err != nil {
		return pr, fmt.Errorf("decode route: %w", err)
	}
	if err := json.Unmarshal(done, &pr.Completed); err != nil {
		return pr, fmt.Errorf("decode completed: %w", err)
	}
	if lat.Valid && lng.Valid {
		pr.LastLocation = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	pr.LastSeenAt = timePtr(seen)
	return pr, nil
}

func (p *Postgres) GetRoute(ctx context.Context, tenantID, routeID string) (model.PlannedRoute, error) {
	if _, err := uuid.Parse(routeID); err != nil {
		return model.PlannedRoute{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM planned_routes WHERE tenant_id=$1 AND id=$2`, tenantID, routeID)
	return scanRoute(row)
}

// ListRoutes pages newest first; the cursor is the created_at of the last item.
func (p *Postgres) ListRoutes(ctx context.Context, tenantID, cursor string, limit int) ([]model.PlannedRoute, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if cursor != "" {
		before, perr := time.Parse(time.RFC3339Nano, cursor)
		if perr != nil {
			return nil, "", fmt.Errorf("bad cursor: %w", perr)
		}
		rows, err = p.db.QueryContext(ctx, `SELECT `+routeColumns+` FROM planned_routes WHERE tenant_id=$1 AND created_at < $2 ORDER BY created_at DESC LIMIT $3`, tenantID, before, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+routeColumns+` FROM planned_routes WHERE tenant_id=$1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.PlannedRoute{}
	for rows.Next() {
		pr, err := scanRoute(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return out, next, nil
}

// RecordProgress merges completed stops and stores the latest location in
// one transaction.
func (p *Postgres) RecordProgress(ctx context.Context, tenantID, routeID string, completed []string, loc opt.Coordinate, at time.Time) (model.PlannedRoute, error) {
	if _, err := uuid.Parse(routeID); err != nil {
		return model.PlannedRoute{}, ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PlannedRoute{}, err
	}
	defer func() { _ = tx.Rollback() }()
	pr, err := scanRoute(tx.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM planned_routes WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, routeID))
	if err != nil {
		return pr, err
	}
	pr.Completed = mergeCompleted(pr.Completed, completed)
	done, _ := json.Marshal(pr.Completed)
	at = at.UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE planned_routes SET completed=$3, last_lat=$4, last_lng=$5, last_seen_at=$6, updated_at=$6 WHERE tenant_id=$1 AND id=$2`,
		tenantID, routeID, done, loc.Lat, loc.Lng, at); err != nil {
		return pr, err
	}
	if err := tx.Commit(); err != nil {
		return pr, err
	}
	pr.LastLocation = &model.GeoPoint{Lat: loc.Lat, Lng: loc.Lng}
	pr.LastSeenAt = &at
	pr.UpdatedAt = at
	return pr, nil
}

func (p *Postgres) ReplaceRoute(ctx context.Context, tenantID, routeID string, r opt.Route) (model.PlannedRoute, error) {
	if _, err := uuid.Parse(routeID); err != nil {
		return model.PlannedRoute{}, ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PlannedRoute{}, err
	}
	defer func() { _ = tx.Rollback() }()
	pr, err := scanRoute(tx.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM planned_routes WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, routeID))
	if err != nil {
		return pr, err
	}
	pr.Route = splice(pr.Route, pr.CompletedSet(), r)
	pr.Version++
	rt, err := json.Marshal(pr.Route)
	if err != nil {
		return pr, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE planned_routes SET route=$3, version=$4, updated_at=now() WHERE tenant_id=$1 AND id=$2`,
		tenantID, routeID, rt, pr.Version); err != nil {
		return pr, err
	}
	if err := tx.Commit(); err != nil {
		return pr, err
	}
	pr.UpdatedAt = time.Now().UTC()
	return pr, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
