// Package forgeerr defines the sentinel-error taxonomy shared by every
// component of the workflow engine. Components wrap these with fmt.Errorf's
// %w verb; callers dispatch with errors.Is rather than type assertions or
// exception-style control flow.
package forgeerr

import "errors"

var (
	// ErrSafetyBlocked is returned when the Safety Gate rejects a subprocess
	// spawn. The subprocess is never started. The Executor returns this error
	// as the phase's outcome, so the phase ends as failed; it does not
	// continue past the block.
	ErrSafetyBlocked = errors.New("forgeerr: safety gate blocked subprocess")

	// ErrQuotaExhausted is returned when the Rate-Limit Guard finds remaining
	// quota below the configured threshold. It fails the workflow immediately.
	ErrQuotaExhausted = errors.New("forgeerr: remote API quota exhausted")

	// ErrTimeout is returned when a phase's child process exceeds its
	// configured timeout.
	ErrTimeout = errors.New("forgeerr: phase execution timed out")

	// ErrToolFailure is returned when an external tool subprocess exits
	// non-zero or its output cannot be reconciled with the tool-output schema.
	ErrToolFailure = errors.New("forgeerr: external tool failure")

	// ErrAgentFailure is returned when the Agent Runner reports a failed
	// invocation.
	ErrAgentFailure = errors.New("forgeerr: agent runner failure")

	// ErrSchemaMismatch is returned when tool or agent stdout cannot be
	// parsed against the expected PhaseResult schema. Treated as ErrToolFailure
	// by callers, with raw output preserved under details.
	ErrSchemaMismatch = errors.New("forgeerr: output did not match expected schema")

	// ErrStateCorruption is returned when a WorkflowState document on disk
	// cannot be parsed. Callers must treat this as an empty-state load and
	// re-initialize.
	ErrStateCorruption = errors.New("forgeerr: workflow state corrupted")

	// ErrPortPoolExhausted is returned when the Port Pool has no free slot.
	ErrPortPoolExhausted = errors.New("forgeerr: port pool exhausted")

	// ErrDependencyBlocked is returned when a Phase Queue transition is
	// invalid given the phase's current status or unresolved dependency.
	ErrDependencyBlocked = errors.New("forgeerr: phase dependency blocked transition")

	// ErrCancelled marks a workflow or phase that was stopped by a cancel
	// request. This is a normal terminal state, not a failure.
	ErrCancelled = errors.New("forgeerr: cancelled")

	// ErrNotFound is returned by stores when an identifier has no record.
	ErrNotFound = errors.New("forgeerr: not found")

	// ErrWebhookSignature is returned when an inbound webhook's
	// X-Hub-Signature-256 header does not match the computed HMAC, or is
	// missing entirely.
	ErrWebhookSignature = errors.New("forgeerr: webhook signature invalid")

	// ErrWebhookDuplicate is returned when a webhook delivery id has already
	// been processed within the dedup window.
	ErrWebhookDuplicate = errors.New("forgeerr: duplicate webhook delivery")
)
