// Package api implements HTTP handlers and helpers for the route planning
// service.
package api

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fieldroute/internal/cache"
	"fieldroute/internal/config"
	"fieldroute/internal/planner"
	"fieldroute/internal/store"
	"fieldroute/internal/travel"
)

type Server struct {
	Store   store.Store
	Planner *planner.Planner
	Broker  EventBroker
	Cfg     config.Config

	limiter *rate.Limiter
	now     func() time.Time
	closers []io.Closer
}

// NewServer wires stores, cache, travel provider and broker from cfg. Empty
// DATABASE_URL means the in-memory store; empty REDIS_URL means in-memory
// cache and broker; empty ORS key means straight-line travel estimates.
func NewServer(cfg config.Config) (*Server, error) {
	s := &Server{Cfg: cfg, now: time.Now}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s.Store = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.DBMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := sp.Migrate(ctx)
			cancel()
			if err != nil {
				_ = sp.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s.Store = sp
		s.closers = append(s.closers, sp)
	}

	var rc cache.RouteCache
	if cfg.RedisURL != "" {
		c, err := cache.NewRedis(cfg.RedisURL, cfg.Planner.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		rc = c
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			s.Broker = rb
		} else {
			log.Printf("[api] redis broker disabled err=%v", err)
		}
	}
	if s.Broker == nil {
		s.Broker = NewBroker()
	}

	var provider travel.Provider
	if cfg.ORS.APIKey != "" {
		ors, err := travel.NewORS(cfg.ORS)
		if err != nil {
			return nil, fmt.Errorf("ors provider: %w", err)
		}
		provider = ors
	}
	s.Planner = planner.New(rc, provider, cfg.Planner)

	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}
	log.Printf("[api] ready store=%T broker=%T ors=%t rate_rps=%.1f", s.Store, s.Broker, provider != nil, cfg.RateRPS)
	return s, nil
}

// Close releases database connections.
func (s *Server) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	// For now, get tenant from header; in production decode from JWT.
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}
