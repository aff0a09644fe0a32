// Package cache stores optimized routes for a short time so repeated
// requests for the same stop set skip the strategies.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"fieldroute/internal/opt"
)

// DefaultTTL is how long a route stays valid.
const DefaultTTL = 15 * time.Minute

// RouteCache is implemented by Memory and Redis.
type RouteCache interface {
	Get(ctx context.Context, key string) (opt.Route, bool, error)
	Put(ctx context.Context, key string, r opt.Route) error
	Clear(ctx context.Context) error
}

// Key fingerprints a request by its stop set and the two planning flags.
// Stop order does not matter. strategy is only mixed in when a caller asked
// for a specific one.
func Key(stopIDs []string, optimizeFor opt.Objective, avoidTraffic bool, strategy string) string {
	ids := append([]string(nil), stopIDs...)
	sort.Strings(ids)
	if optimizeFor == "" {
		optimizeFor = opt.OptimizeBalanced
	}
	var b strings.Builder
	b.WriteString(strings.Join(ids, "\x1f"))
	fmt.Fprintf(&b, "|%s|%t", optimizeFor, avoidTraffic)
	if strategy != "" {
		b.WriteString("|" + strategy)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
