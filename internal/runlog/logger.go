package runlog

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase record statuses.
const (
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// Overall execution statuses reported by GenerateSummary.
const (
	ExecSuccess        = "success"
	ExecPartialSuccess = "partial_success"
	ExecFailed         = "failed"
	ExecInProgress     = "in_progress"
	ExecUnknown        = "unknown"
)

const auditTrailVersion = "1.0"

// maxPreviewLen bounds string values stored in phase result summaries.
const maxPreviewLen = 100

// PhaseRecord tracks one pipeline phase from start to completion or failure.
type PhaseRecord struct {
	Name            string         `json:"name"`
	Status          string         `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Result          any            `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	Cause           string         `json:"cause,omitempty"`
}

// APICall is one sanitized external call record.
type APICall struct {
	API       string         `json:"api"`
	Operation string         `json:"operation"`
	Phase     string         `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Request   map[string]any `json:"request,omitempty"`
	Response  map[string]any `json:"response,omitempty"`
	CostUSD   float64        `json:"cost_usd"`
}

// Event is a timestamped error or warning entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// LogEntry is one line of the complete ordered run log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
}

// PhaseSummary is the per-phase slice of the run summary.
type PhaseSummary struct {
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Summary aggregates one run: statuses, timing, cost, errors.
type Summary struct {
	JobID                string                  `json:"job_id"`
	ExecutionStatus      string                  `json:"execution_status"`
	StartedAt            time.Time               `json:"started_at"`
	GeneratedAt          time.Time               `json:"generated_at"`
	TotalDurationSeconds float64                 `json:"total_duration_seconds"`
	Phases               map[string]PhaseSummary `json:"phases"`
	TotalCostUSD         float64                 `json:"total_cost_usd"`
	CostByAPI            map[string]float64      `json:"cost_by_api"`
	APICallCount         int                     `json:"api_call_count"`
	ErrorCount           int                     `json:"error_count"`
	WarningCount         int                     `json:"warning_count"`
	Errors               []string                `json:"errors,omitempty"`
	Warnings             []string                `json:"warnings,omitempty"`
}

// AuditTrail is the full document persisted once per run attempt.
type AuditTrail struct {
	Version     string        `json:"version"`
	JobID       string        `json:"job_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Summary     Summary       `json:"summary"`
	Phases      []PhaseRecord `json:"phases"`
	APICalls    []APICall     `json:"api_calls"`
	Errors      []Event       `json:"errors"`
	Warnings    []Event       `json:"warnings"`
	AllLogs     []LogEntry    `json:"all_logs"`
}

// Logger records one job run. It is created at run start, owned exclusively
// by that run, and flushed exactly once when the run ends. All methods are
// safe on a nil receiver so context lookups can no-op.
type Logger struct {
	mu           sync.Mutex
	jobID        string
	startedAt    time.Time
	zlog         *zap.Logger
	phaseOrder   []string
	phases       map[string]*PhaseRecord
	currentPhase string
	apiCalls     []APICall
	errors       []Event
	warnings     []Event
	allLogs      []LogEntry
}

// New creates a run logger for the given job.
func New(jobID string, zlog *zap.Logger) *Logger {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	l := &Logger{
		jobID:     jobID,
		startedAt: time.Now().UTC(),
		zlog:      zlog,
		phases:    make(map[string]*PhaseRecord),
	}
	l.appendLog("run_started", jobID)
	return l
}

// JobID returns the job this run belongs to.
func (l *Logger) JobID() string {
	if l == nil {
		return ""
	}
	return l.jobID
}

// StartPhase opens a phase record. Starting an already-open phase restarts
// its clock.
func (l *Logger) StartPhase(name string, metadata map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if _, seen := l.phases[name]; !seen {
		l.phaseOrder = append(l.phaseOrder, name)
	}
	l.phases[name] = &PhaseRecord{
		Name:      name,
		Status:    PhaseRunning,
		StartedAt: now,
		Metadata:  metadata,
	}
	l.currentPhase = name
	l.appendLog("phase_started", name)
}

// CompletePhase closes a started phase with a summarized result. Completing
// a phase that was never started records a warning and changes nothing else.
func (l *Logger) CompletePhase(name string, result any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.phases[name]
	if !ok {
		l.zlog.Warn("completePhase called for phase that was never started",
			zap.String("job_id", l.jobID), zap.String("phase", name))
		l.warn(fmt.Sprintf("completePhase called for unstarted phase %q", name), nil)
		return
	}
	now := time.Now().UTC()
	rec.Status = PhaseCompleted
	rec.CompletedAt = &now
	rec.DurationSeconds = now.Sub(rec.StartedAt).Seconds()
	rec.Result = summarizeResult(result)
	l.appendLog("phase_completed", fmt.Sprintf("%s (%.3fs)", name, rec.DurationSeconds))
}

// FailPhase marks a phase failed, creating the record if it was never
// started.
func (l *Logger) FailPhase(name, message string, cause error) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := l.phases[name]
	if !ok {
		rec = &PhaseRecord{Name: name, StartedAt: now}
		l.phases[name] = rec
		l.phaseOrder = append(l.phaseOrder, name)
	}
	rec.Status = PhaseFailed
	rec.CompletedAt = &now
	rec.DurationSeconds = now.Sub(rec.StartedAt).Seconds()
	rec.Error = message
	if cause != nil {
		rec.Cause = cause.Error()
	}
	l.errors = append(l.errors, Event{
		Timestamp: now,
		Message:   message,
		Context:   map[string]any{"phase": name},
	})
	l.appendLog("phase_failed", fmt.Sprintf("%s: %s", name, message))
}

// LogAPICall appends a sanitized external call record attributed to the
// phase current at call time.
func (l *Logger) LogAPICall(api, operation string, request, response map[string]any, costUSD float64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.apiCalls = append(l.apiCalls, APICall{
		API:       api,
		Operation: operation,
		Phase:     l.currentPhase,
		Timestamp: time.Now().UTC(),
		Request:   sanitizeMap(request),
		Response:  sanitizeMap(response),
		CostUSD:   costUSD,
	})
	l.appendLog("api_call", fmt.Sprintf("%s %s cost=%.4f", api, operation, costUSD))
}

// LogError records a run-level error outside the phase lifecycle.
func (l *Logger) LogError(message string, context map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, Event{Timestamp: time.Now().UTC(), Message: message, Context: context})
	l.appendLog("error", message)
}

// LogWarning records a run-level warning.
func (l *Logger) LogWarning(message string, context map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warn(message, context)
}

// warn appends a warning; caller holds the lock.
func (l *Logger) warn(message string, context map[string]any) {
	l.warnings = append(l.warnings, Event{Timestamp: time.Now().UTC(), Message: message, Context: context})
	l.appendLog("warning", message)
}

// appendLog adds a line to the ordered run log; caller holds the lock
// (or the logger is still single-owner during New).
func (l *Logger) appendLog(event, detail string) {
	l.allLogs = append(l.allLogs, LogEntry{Timestamp: time.Now().UTC(), Event: event, Detail: detail})
}

// GenerateSummary aggregates the run so far.
func (l *Logger) GenerateSummary() Summary {
	if l == nil {
		return Summary{ExecutionStatus: ExecUnknown}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summaryLocked()
}

func (l *Logger) summaryLocked() Summary {
	now := time.Now().UTC()
	phases := make(map[string]PhaseSummary, len(l.phases))
	for name, rec := range l.phases {
		phases[name] = PhaseSummary{Status: rec.Status, DurationSeconds: rec.DurationSeconds}
	}

	var total float64
	costByAPI := make(map[string]float64)
	for _, call := range l.apiCalls {
		total += call.CostUSD
		costByAPI[call.API] += call.CostUSD
	}
	for api, cost := range costByAPI {
		costByAPI[api] = round2(cost)
	}

	errMsgs := make([]string, 0, len(l.errors))
	for _, e := range l.errors {
		errMsgs = append(errMsgs, e.Message)
	}
	warnMsgs := make([]string, 0, len(l.warnings))
	for _, w := range l.warnings {
		warnMsgs = append(warnMsgs, w.Message)
	}

	return Summary{
		JobID:                l.jobID,
		ExecutionStatus:      l.executionStatusLocked(),
		StartedAt:            l.startedAt,
		GeneratedAt:          now,
		TotalDurationSeconds: now.Sub(l.startedAt).Seconds(),
		Phases:               phases,
		TotalCostUSD:         round2(total),
		CostByAPI:            costByAPI,
		APICallCount:         len(l.apiCalls),
		ErrorCount:           len(l.errors),
		WarningCount:         len(l.warnings),
		Errors:               errMsgs,
		Warnings:             warnMsgs,
	}
}

// executionStatusLocked derives the overall status: any open phase means
// in_progress, all completed means success, all failed means failed, a mix
// of completed and failed means partial_success, no phases means unknown.
func (l *Logger) executionStatusLocked() string {
	if len(l.phases) == 0 {
		return ExecUnknown
	}
	allCompleted, allFailed := true, true
	for _, rec := range l.phases {
		switch rec.Status {
		case PhaseRunning:
			return ExecInProgress
		case PhaseCompleted:
			allFailed = false
		case PhaseFailed:
			allCompleted = false
		}
	}
	if allCompleted {
		return ExecSuccess
	}
	if allFailed {
		return ExecFailed
	}
	return ExecPartialSuccess
}

// GenerateAuditTrail builds the full persistable document for this run.
func (l *Logger) GenerateAuditTrail() AuditTrail {
	if l == nil {
		return AuditTrail{Version: auditTrailVersion}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ordered := make([]PhaseRecord, 0, len(l.phaseOrder))
	for _, name := range l.phaseOrder {
		if rec, ok := l.phases[name]; ok {
			ordered = append(ordered, *rec)
		}
	}
	return AuditTrail{
		Version:     auditTrailVersion,
		JobID:       l.jobID,
		GeneratedAt: time.Now().UTC(),
		Summary:     l.summaryLocked(),
		Phases:      ordered,
		APICalls:    append([]APICall(nil), l.apiCalls...),
		Errors:      append([]Event(nil), l.errors...),
		Warnings:    append([]Event(nil), l.warnings...),
		AllLogs:     append([]LogEntry(nil), l.allLogs...),
	}
}

// summarizeResult compresses a phase result for the audit trail: long
// strings become previews, nested containers become element counts, map
// keys are kept with each value shallow-summarized.
func summarizeResult(result any) any {
	switch v := result.(type) {
	case nil:
		return nil
	case string:
		return previewString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = summarizeShallow(inner)
		}
		return out
	case []any:
		return fmt.Sprintf("%d items", len(v))
	default:
		return v
	}
}

func summarizeShallow(v any) any {
	switch t := v.(type) {
	case string:
		return previewString(t)
	case map[string]any:
		return fmt.Sprintf("%d fields", len(t))
	case []any:
		return fmt.Sprintf("%d items", len(t))
	case []string:
		return fmt.Sprintf("%d items", len(t))
	default:
		return v
	}
}

func previewString(s string) string {
	if len(s) <= maxPreviewLen {
		return s
	}
	return s[:maxPreviewLen] + "..."
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
