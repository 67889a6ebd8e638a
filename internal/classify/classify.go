// Package classify implements the Classifier & Cost Estimator: a pure
// text heuristic over an issue's title, body, and type label that routes
// work to one of three templates and a per-phase cost band.
//
// The keyword families and score deltas are ported directly from the
// original complexity analyzer; only the representation changed (a single
// Go function instead of a dataclass-returning heuristic).
package classify

import (
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// Level is the routing decision produced by Classify.
type Level string

const (
	LevelLightweight Level = "lightweight"
	LevelStandard    Level = "standard"
	LevelComplex     Level = "complex"
)

// Analysis is the deterministic result of classifying one issue.
type Analysis struct {
	Level        Level
	Confidence   float64
	Reasoning    []string
	CostMinUSD   float64
	CostMaxUSD   float64
	TemplateName string
}

var uiOnlyKeywords = []string{
	"add button", "change color", "update text", "rename", "label",
	"tooltip", "icon", "display", "show", "hide", "toggle",
	"styling", "css", "layout adjustment",
}

var docsKeywords = []string{"docs", "documentation", "readme", "comment"}
var docsExclusion = []string{"implement", "feature", "backend"}

var databaseKeywords = []string{"database", "migration", "schema", "model", "orm"}
var securityKeywords = []string{"auth", "security", "permission", "access control"}
var externalKeywords = []string{"api integration", "third-party", "webhook", "external service"}
var workflowKeywords = []string{"workflow", "pipeline", "automation", "ci/cd"}
var largeScopeKeywords = []string{"refactor", "redesign", "overhaul", "migration"}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Classify scores the combined title+body text and an optional issue class
// label (e.g. "/chore") and returns the routing decision. It performs no
// I/O and is deterministic: the same inputs always yield the same output.
func Classify(title, body, issueClass string) Analysis {
	text := strings.ToLower(title + " " + body)

	score := 0
	var reasons []string

	if containsAny(text, uiOnlyKeywords) {
		score -= 2
		reasons = append(reasons, "Simple UI change detected")
	}

	if containsAny(text, docsKeywords) && !containsAny(text, docsExclusion) {
		score -= 3
		reasons = append(reasons, "Documentation-only change")
	}

	if strings.Count(text, ".tsx") == 1 || strings.Count(text, ".ts") == 1 || strings.Count(text, ".py") == 1 {
		score -= 1
		reasons = append(reasons, "Single file scope")
	}

	if issueClass == "/chore" {
		score -= 1
		reasons = append(reasons, "Chore classification (typically simpler)")
	}

	backendSide := strings.Contains(text, "backend") || strings.Contains(text, "server") || strings.Contains(text, "api")
	frontendSide := strings.Contains(text, "frontend") || strings.Contains(text, "client") || strings.Contains(text, "ui")
	if backendSide && frontendSide {
		score += 3
		reasons = append(reasons, "Full-stack integration required")
	}

	if containsAny(text, databaseKeywords) {
		score += 2
		reasons = append(reasons, "Database changes required")
	}

	if containsAny(text, securityKeywords) {
		score += 2
		reasons = append(reasons, "Security-sensitive changes")
	}

	if containsAny(text, externalKeywords) {
		score += 2
		reasons = append(reasons, "External integration required")
	}

	componentCount := strings.Count(text, "component") + strings.Count(text, "module") + strings.Count(text, "service")
	if componentCount > 2 {
		score += 2
		reasons = append(reasons, "Multiple components affected")
	}

	if strings.Contains(text, "e2e") || strings.Contains(text, "integration test") {
		score += 1
		reasons = append(reasons, "Complex testing required")
	}

	if containsAny(text, workflowKeywords) {
		score += 2
		reasons = append(reasons, "Workflow/automation changes")
	}

	if containsAny(text, largeScopeKeywords) {
		score += 2
		reasons = append(reasons, "Large-scale changes indicated")
	}

	if strings.Contains(text, "simple") || strings.Contains(text, "quick") || strings.Contains(text, "minor") {
		score -= 2
		reasons = append(reasons, "Explicitly marked as simple")
	}

	if strings.Contains(text, "complex") || strings.Contains(text, "major") || strings.Contains(text, "significant") {
		score += 2
		reasons = append(reasons, "Explicitly marked as complex")
	}

	var a Analysis
	switch {
	case score <= -2:
		a = Analysis{Level: LevelLightweight, Confidence: minF(1.0, absF(float64(score))/5.0), CostMinUSD: 0.20, CostMaxUSD: 0.50, TemplateName: "lightweight"}
	case score <= 2:
		a = Analysis{Level: LevelStandard, Confidence: 0.7, CostMinUSD: 1.00, CostMaxUSD: 2.00, TemplateName: "standard"}
	default:
		a = Analysis{Level: LevelComplex, Confidence: minF(1.0, float64(score)/6.0), CostMinUSD: 3.00, CostMaxUSD: 5.00, TemplateName: "complete"}
	}
	a.Reasoning = reasons
	return a
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absF(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

// Cache memoizes Classify results keyed by an xxhash of the issue id,
// deduplicating concurrent classification of the same issue via
// singleflight so two goroutines racing to classify the same key compute
// the heuristic exactly once. The first Analysis computed for an issue id
// is returned for every later call with that id, whatever title, body, or
// class is passed.
type Cache struct {
	group singleflight.Group

	mu      sync.RWMutex
	results map[uint64]Analysis
}

// NewCache returns an empty classification cache.
func NewCache() *Cache {
	return &Cache{results: make(map[uint64]Analysis)}
}

// cacheKey derives the cache key for one issue id.
func cacheKey(issueID string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(issueID)
	return h.Sum64()
}

// Get returns the cached Analysis for issueID, computing and storing it via
// Classify(title, body, issueClass) on the first call for that id.
func (c *Cache) Get(issueID, title, body, issueClass string) Analysis {
	key := cacheKey(issueID)

	c.mu.RLock()
	if a, ok := c.results[key]; ok {
		c.mu.RUnlock()
		return a
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do(strconv.FormatUint(key, 36), func() (interface{}, error) {
		a := Classify(title, body, issueClass)
		c.mu.Lock()
		c.results[key] = a
		c.mu.Unlock()
		return a, nil
	})
	return v.(Analysis)
}
