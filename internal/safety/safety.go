// Package safety implements the Safety Gate: a policy filter invoked before
// every subprocess spawned on behalf of an agent, blocking destructive
// filesystem operations and secret-bearing file access.
//
// Patterns are ported from the original hook's regex family; the exit(2)
// contract is preserved at the CLI boundary (cmd/forge's safety-hook
// subcommand) but the gate itself returns an error, never calling os.Exit.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/forgeflow/forge/internal/forgeerr"
)

var rmDangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+.*-[a-z]*r[a-z]*f`),
	regexp.MustCompile(`\brm\s+.*-[a-z]*f[a-z]*r`),
	regexp.MustCompile(`\brm\s+--recursive\s+--force`),
	regexp.MustCompile(`\brm\s+--force\s+--recursive`),
	regexp.MustCompile(`\brm\s+-r\s+.*-f`),
	regexp.MustCompile(`\brm\s+-f\s+.*-r`),
}

var rmRecursiveFlag = regexp.MustCompile(`\brm\s+.*-[a-z]*r`)

// dangerousPathGlobs are matched against the normalized command with
// doublestar so that wildcard path segments (~/**, /**) are recognized in
// addition to the plain substring patterns the original regex family used.
var dangerousPathGlobs = []string{"*/", "*~*", "*$home*", "*..*", "*.*"}

var dangerousPathSubstrings = []string{"/", "/*", "~", "~/", "$home", "..", "*", "."}

var envAccessPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\.env\b(?:\.sample)?`),
}

var envBashPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\.env\b`),
	regexp.MustCompile(`cat\s+.*\.env\b`),
	regexp.MustCompile(`echo\s+.*>\s*\.env\b`),
	regexp.MustCompile(`touch\s+.*\.env\b`),
	regexp.MustCompile(`cp\s+.*\.env\b`),
	regexp.MustCompile(`mv\s+.*\.env\b`),
}

var fileToolNames = map[string]bool{
	"Read": true, "Edit": true, "MultiEdit": true, "Write": true,
}

func normalize(command string) string {
	return strings.Join(strings.Fields(strings.ToLower(command)), " ")
}

// IsDangerousRM reports whether command matches a recursive-delete-on-a-
// dangerous-path pattern.
func IsDangerousRM(command string) bool {
	normalized := normalize(command)

	for _, p := range rmDangerousPatterns {
		if p.MatchString(normalized) {
			return true
		}
	}

	if rmRecursiveFlag.MatchString(normalized) {
		for _, sub := range dangerousPathSubstrings {
			if strings.Contains(normalized, sub) {
				return true
			}
		}
		for _, g := range dangerousPathGlobs {
			if ok, _ := doublestar.Match(g, normalized); ok {
				return true
			}
		}
	}
	return false
}

// IsEnvFileAccess reports whether toolName/toolInput reads or writes a real
// .env file (as opposed to a .env.sample template).
func IsEnvFileAccess(toolName string, toolInput map[string]any) bool {
	if fileToolNames[toolName] {
		path, _ := toolInput["file_path"].(string)
		if strings.Contains(path, ".env") && !strings.HasSuffix(path, ".env.sample") {
			return true
		}
		return false
	}

	if toolName == "Bash" {
		command, _ := toolInput["command"].(string)
		if strings.Contains(command, ".env.sample") {
			return false
		}
		for _, p := range envBashPatterns {
			if p.MatchString(command) {
				return true
			}
		}
	}
	return false
}

// Gate evaluates tool invocations against the safety policy before spawn.
type Gate struct{}

// NewGate returns a Gate ready to evaluate tool invocations.
func NewGate() *Gate { return &Gate{} }

// Check evaluates toolName/toolInput and returns forgeerr.ErrSafetyBlocked
// with a human-readable reason if the invocation should be blocked.
// Otherwise it returns nil.
func (g *Gate) Check(toolName string, toolInput map[string]any) error {
	if IsEnvFileAccess(toolName, toolInput) {
		return fmt.Errorf("access to .env files containing sensitive data is prohibited (use .env.sample instead): %w", forgeerr.ErrSafetyBlocked)
	}

	if toolName == "Bash" {
		command, _ := toolInput["command"].(string)
		if IsDangerousRM(command) {
			return fmt.Errorf("dangerous rm command detected and prevented: %q: %w", command, forgeerr.ErrSafetyBlocked)
		}
	}

	return nil
}
