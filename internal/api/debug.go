package api

import (
	"fmt"
	"net/http"
	"time"

	"fieldroute/internal/buildinfo"
)

// DebugJSON reports build info and the non-secret parts of the config.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  s.now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":           c.Port,
			"rateRps":        c.RateRPS,
			"rateBurst":      c.RateBurst,
			"orsProfile":     c.ORS.Profile,
			"hasOrsKey":      c.ORS.APIKey != "",
			"hasDatabaseUrl": c.DatabaseURL != "",
			"hasRedisUrl":    c.RedisURL != "",
		},
		"store":  fmt.Sprintf("%T", s.Store),
		"broker": fmt.Sprintf("%T", s.Broker),
	})
}
