// Package ratelimit implements the Rate-Limit Guard: a pre-flight check for
// remote-API quota before starting expensive phases. Two backends are
// probed: a tiny ping request to the LLM, and the Version Control Host's
// dedicated rate-limit endpoint.
//
// Each probe is wrapped in a circuit breaker so a flaky quota endpoint
// degrades to "proceed with a logged warning" (fail-open, mirroring the
// original's except-and-return-None behavior) instead of failing every
// workflow whenever the probe itself misbehaves.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"

	"github.com/forgeflow/forge/internal/forgeerr"
)

// Backend identifies which remote quota to probe.
type Backend string

const (
	BackendLLM Backend = "llm"
	BackendVCS Backend = "vcs"
)

// Info mirrors the original RateLimitInfo: remaining/limit quota plus the
// backend's reset time.
type Info struct {
	Backend   Backend
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// UsagePercent returns the percentage of quota already used.
func (i Info) UsagePercent() float64 {
	if i.Limit == 0 {
		return 0
	}
	return float64(i.Limit-i.Remaining) / float64(i.Limit) * 100
}

// Exhausted reports whether no quota remains.
func (i Info) Exhausted() bool { return i.Remaining == 0 }

// Prober fetches current quota for a backend. Implementations ping the LLM
// API or call `gh api rate_limit` / `gh api graphql`.
type Prober func(ctx context.Context) (Info, error)

// Guard checks remote quota before expensive phases, failing the workflow
// immediately when quota is below threshold.
type Guard struct {
	probers  map[Backend]Prober
	breakers map[Backend]*gobreaker.CircuitBreaker
	logger   *log.Logger
}

// NewGuard returns a Guard with one circuit breaker per backend prober.
func NewGuard(probers map[Backend]Prober, logger *log.Logger) *Guard {
	breakers := make(map[Backend]*gobreaker.CircuitBreaker, len(probers))
	for backend := range probers {
		name := string(backend)
		breakers[backend] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &Guard{probers: probers, breakers: breakers, logger: logger}
}

// Ensure probes backend's quota and returns forgeerr.ErrQuotaExhausted if
// remaining quota is below threshold. A probe failure (including an open
// circuit breaker) is logged as a warning and treated as "proceed" -- the
// same fail-open behavior as the original implementation's `except ...
// return None`.
func (g *Guard) Ensure(ctx context.Context, backend Backend, threshold int) error {
	prober, ok := g.probers[backend]
	if !ok {
		return fmt.Errorf("ratelimit: no prober registered for backend %q", backend)
	}
	breaker := g.breakers[backend]

	result, err := breaker.Execute(func() (interface{}, error) {
		return prober(ctx)
	})
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("rate limit check failed, proceeding with caution", "backend", backend, "error", err)
		}
		return nil
	}

	info := result.(Info)
	if g.logger != nil {
		g.logger.Info("rate limit check", "backend", backend, "remaining", info.Remaining, "limit", info.Limit)
	}
	if info.Remaining < threshold {
		return fmt.Errorf("backend %q: %d/%d remaining, below threshold %d: %w", backend, info.Remaining, info.Limit, threshold, forgeerr.ErrQuotaExhausted)
	}
	return nil
}

// StatusMessage returns a human-readable summary of every registered
// backend's current quota, mirroring get_rate_limit_status_message.
func (g *Guard) StatusMessage(ctx context.Context) string {
	msg := "Remote API rate limits:\n"
	for _, backend := range []Backend{BackendLLM, BackendVCS} {
		prober, ok := g.probers[backend]
		if !ok {
			continue
		}
		info, err := prober(ctx)
		if err != nil {
			msg += fmt.Sprintf("  %s: unable to check (%v)\n", backend, err)
			continue
		}
		msg += fmt.Sprintf("  %s: %d/%d remaining (%.1f%% used)\n", backend, info.Remaining, info.Limit, info.UsagePercent())
		if info.Exhausted() {
			msg += fmt.Sprintf("    EXHAUSTED - resets at %s\n", info.ResetAt.Format(time.RFC3339))
		}
	}
	return msg
}
