// Package observability implements the Observability Emitter: fire-and-
// forget writes of phase/workflow/tool-call events to a per-workflow NDJSON
// file and, best-effort, to the Event Sink's HTTP surface. Neither path
// ever mutates WorkflowState or PhaseRecord, and neither ever aborts a
// workflow on failure.
package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventType enumerates ObservabilityEvent categories.
type EventType string

const (
	EventPhase    EventType = "phase"
	EventWorkflow EventType = "workflow"
	EventToolCall EventType = "tool_call"
)

// Event is the append-only observability record.
type Event struct {
	EventID         string         `json:"event_id"`
	Timestamp       time.Time      `json:"timestamp"`
	EventType       EventType      `json:"event_type"`
	WorkflowID      string         `json:"workflow_id"`
	IssueID         string         `json:"issue_id"`
	PhaseName       string         `json:"phase_name,omitempty"`
	PhaseNumber     int            `json:"phase_number,omitempty"`
	Status          string         `json:"status"`
	Message         string         `json:"message,omitempty"`
	Template        string         `json:"template,omitempty"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
	TokensUsed      *int           `json:"tokens_used,omitempty"`
	CostUSD         *float64       `json:"cost_usd,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_phase_events_total",
		Help: "Total observability events emitted, by event type and status.",
	}, []string{"event_type", "status"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forge_phase_duration_seconds",
		Help:    "Observed phase durations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase_name", "status"})
)

// Emitter writes ObservabilityEvents to logs/<workflow_id>/events.jsonl and
// POSTs the same record to the configured endpoint, best-effort.
type Emitter struct {
	logDir   string
	endpoint string
	logger   *log.Logger
	client   *httpClient

	mu       sync.Mutex
	lastTime map[string]time.Time // monotonicity per workflow_id
}

// NewEmitter returns an Emitter writing NDJSON under logDir and POSTing to
// endpoint (ignored if empty).
func NewEmitter(logDir, endpoint string, logger *log.Logger) *Emitter {
	return &Emitter{
		logDir:   logDir,
		endpoint: endpoint,
		logger:   logger,
		client:   newHTTPClient(),
		lastTime: make(map[string]time.Time),
	}
}

func (e *Emitter) nextTimestamp(workflowID string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	if last, ok := e.lastTime[workflowID]; ok && !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	e.lastTime[workflowID] = now
	return now
}

func (e *Emitter) emit(ev Event) {
	ev.EventID = uuid.NewString()
	ev.Timestamp = e.nextTimestamp(ev.WorkflowID)

	eventsTotal.WithLabelValues(string(ev.EventType), ev.Status).Inc()
	if ev.EventType == EventPhase && ev.DurationSeconds != nil {
		phaseDuration.WithLabelValues(ev.PhaseName, ev.Status).Observe(*ev.DurationSeconds)
	}

	if err := e.appendNDJSON(ev); err != nil && e.logger != nil {
		e.logger.Warn("observability: failed to write event log", "workflow_id", ev.WorkflowID, "error", err)
	}
	if e.endpoint != "" {
		if err := e.post(ev); err != nil && e.logger != nil {
			e.logger.Warn("observability: failed to post event", "workflow_id", ev.WorkflowID, "error", err)
		}
	}
}

func (e *Emitter) appendNDJSON(ev Event) error {
	dir := filepath.Join(e.logDir, ev.WorkflowID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close() //nolint:errcheck

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

func (e *Emitter) post(ev Event) error {
	var path string
	switch ev.EventType {
	case EventWorkflow:
		path = "/api/v1/observability/workflows"
	default:
		path = "/api/v1/observability/phases"
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := e.client.newRequest(http.MethodPost, e.endpoint+path)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))

	resp, err := e.client.inner.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return formatHTTPError(resp.StatusCode, respBody, "observability endpoint")
	}
	return nil
}

// PhaseOpts carries the optional fields for LogPhase.
type PhaseOpts struct {
	Duration     *time.Duration
	TokensUsed   *int
	CostUSD      *float64
	ErrorMessage string
	Context      map[string]any
}

// LogPhase emits a phase-scoped observability event.
func (e *Emitter) LogPhase(workflowID, issueID, phaseName string, phaseNumber int, status, message, template string, opts PhaseOpts) {
	ev := Event{
		EventType:    EventPhase,
		WorkflowID:   workflowID,
		IssueID:      issueID,
		PhaseName:    phaseName,
		PhaseNumber:  phaseNumber,
		Status:       status,
		Message:      message,
		Template:     template,
		TokensUsed:   opts.TokensUsed,
		CostUSD:      opts.CostUSD,
		ErrorMessage: opts.ErrorMessage,
		Context:      opts.Context,
	}
	if opts.Duration != nil {
		secs := opts.Duration.Seconds()
		ev.DurationSeconds = &secs
	}
	e.emit(ev)
}

// WorkflowOpts carries the optional fields for LogWorkflow.
type WorkflowOpts struct {
	Duration     *time.Duration
	TokensUsed   *int
	CostUSD      *float64
	ErrorMessage string
	Context      map[string]any
}

// LogWorkflow emits a workflow-scoped observability event.
func (e *Emitter) LogWorkflow(workflowID, issueID, status, message, template string, opts WorkflowOpts) {
	ev := Event{
		EventType:    EventWorkflow,
		WorkflowID:   workflowID,
		IssueID:      issueID,
		Status:       status,
		Message:      message,
		Template:     template,
		TokensUsed:   opts.TokensUsed,
		CostUSD:      opts.CostUSD,
		ErrorMessage: opts.ErrorMessage,
		Context:      opts.Context,
	}
	if opts.Duration != nil {
		secs := opts.Duration.Seconds()
		ev.DurationSeconds = &secs
	}
	e.emit(ev)
}

// ToolCall records one subprocess invocation spawned during phase execution.
type ToolCall struct {
	ToolName   string
	Args       []string
	StartedAt  time.Time
	DurationMS int64
	Success    bool
}

// LogToolCall flushes a tool-call record with the enclosing phase context.
func (e *Emitter) LogToolCall(workflowID, issueID, phaseName string, call ToolCall) {
	e.emit(Event{
		EventType:   EventToolCall,
		WorkflowID:  workflowID,
		IssueID:     issueID,
		PhaseName:   phaseName,
		Status:      statusFor(call.Success),
		Message:     call.ToolName,
		Context: map[string]any{
			"tool_name":   call.ToolName,
			"args":        call.Args,
			"started_at":  call.StartedAt,
			"duration_ms": call.DurationMS,
			"success":     call.Success,
		},
	})
}

func statusFor(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
