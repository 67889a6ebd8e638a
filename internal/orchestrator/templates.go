package orchestrator

// deprecatedTemplateAliases maps a retired template name to its current
// replacement. Resolution happens before any phase is enqueued, so a caller
// invoking a deprecated template transparently runs the replacement instead.
// Kept as a static alias table rather than dropped, since existing callers
// may still reference the old names.
var deprecatedTemplateAliases = map[string]string{
	"adw_sdlc_iso":       "complete",
	"adw_plan_build_iso": "lightweight",
	"adw_patch_iso":      "lightweight",
}

// ResolveTemplate follows the deprecated-alias table until it reaches a
// current template name (or the input unchanged, if it names no alias).
func ResolveTemplate(name string) string {
	seen := map[string]bool{}
	for {
		next, ok := deprecatedTemplateAliases[name]
		if !ok || seen[name] {
			return name
		}
		seen[name] = true
		name = next
	}
}
