package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// VCSRESTProber shells out to `gh api rate_limit` and parses the REST core
// quota, matching check_rest_rate_limit.
func VCSRESTProber(ctx context.Context) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "gh", "api", "rate_limit").Output()
	if err != nil {
		return Info{}, fmt.Errorf("ratelimit: gh api rate_limit: %w", err)
	}

	var payload struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Info{}, fmt.Errorf("ratelimit: parsing gh api rate_limit output: %w", err)
	}

	return Info{
		Backend:   BackendVCS,
		Limit:     payload.Resources.Core.Limit,
		Remaining: payload.Resources.Core.Remaining,
		ResetAt:   time.Unix(payload.Resources.Core.Reset, 0).UTC(),
	}, nil
}

// VCSGraphQLProber shells out to `gh api graphql` and parses the GraphQL
// quota, matching check_graphql_rate_limit.
func VCSGraphQLProber(ctx context.Context) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "gh", "api", "graphql",
		"-f", "query=query { rateLimit { limit remaining resetAt } }").Output()
	if err != nil {
		return Info{}, fmt.Errorf("ratelimit: gh api graphql: %w", err)
	}

	var payload struct {
		Data struct {
			RateLimit struct {
				Limit     int       `json:"limit"`
				Remaining int       `json:"remaining"`
				ResetAt   time.Time `json:"resetAt"`
			} `json:"rateLimit"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Info{}, fmt.Errorf("ratelimit: parsing gh api graphql output: %w", err)
	}

	return Info{
		Backend:   BackendVCS,
		Limit:     payload.Data.RateLimit.Limit,
		Remaining: payload.Data.RateLimit.Remaining,
		ResetAt:   payload.Data.RateLimit.ResetAt,
	}, nil
}

// LLMPingProber sends a minimal probe request to the LLM backend. cmd is the
// configured agent CLI (e.g. "claude"); a successful, fast exit is treated
// as "quota available" since most LLM CLIs do not expose a dedicated quota
// endpoint the way the Version Control Host does.
func LLMPingProber(cmd string) Prober {
	return func(ctx context.Context) (Info, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if _, err := exec.LookPath(cmd); err != nil {
			return Info{}, fmt.Errorf("ratelimit: llm cli %q not found: %w", cmd, err)
		}
		// A bounded, side-effect-free version probe; the CLI's presence and
		// responsiveness stands in for quota we cannot otherwise observe.
		if err := exec.CommandContext(ctx, cmd, "--version").Run(); err != nil {
			return Info{}, fmt.Errorf("ratelimit: llm cli %q ping: %w", cmd, err)
		}
		return Info{Backend: BackendLLM, Limit: 1, Remaining: 1, ResetAt: time.Now().Add(time.Minute)}, nil
	}
}
