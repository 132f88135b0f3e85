// Package events defines the closed set of telemetry event variants buffered
// during a session. Each variant is an immutable value built by its
// constructor; the JSON shape is fixed by struct tags, with a shared header
// carrying the variant tag, session id, and creation timestamp.
package events

import (
	"fmt"
	"time"
)

// Variant tags, equal to the serialized "event_id" of each event.
const (
	KindStarted   = "StartedTelemetryEvent"
	KindArgParse  = "ArgParseTelemetryEvent"
	KindArgParsed = "ArgParsedTelemetryEvent"
	KindStartup   = "StartupTelemetryEvent"
	KindExcRaised = "ExcRaisedTelemetryEvent"
	KindEnded     = "EndedTelemetryEvent"
)

// Event is one buffered telemetry event. String renders a compact debug
// form with only identifying fields, never the full payload.
type Event interface {
	EventKind() string
	String() string
}

// header is embedded in every variant; its fields flatten into the
// variant's JSON object.
type header struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	CreatedAt int64  `json:"created_at"`
}

func newHeader(kind, sessionID string) header {
	return header{
		EventID:   kind,
		SessionID: sessionID,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func (h header) EventKind() string { return h.EventID }

// PluginInfo describes one host plugin active during the session.
type PluginInfo struct {
	Name    string `json:"name"`
	Module  string `json:"module"`
	Enabled bool   `json:"enabled"`
	Version string `json:"version"`
}

// EnvironmentInfo describes the runtime the session executed under.
type EnvironmentInfo struct {
	RuntimeVersion   string `json:"runtime_version"`
	FrameworkVersion string `json:"framework_version"`
}

// ExceptionInfo is the serialized form of a captured exception.
type ExceptionInfo struct {
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Traceback []string `json:"traceback"`
}

// StartedTelemetryEvent is the first event of every session.
type StartedTelemetryEvent struct {
	header
	ProjectID   string          `json:"project_id"`
	InitedAt    int64           `json:"inited_at"`
	Environment EnvironmentInfo `json:"environment"`
	Plugins     []PluginInfo    `json:"plugins"`
}

// NewStarted builds the session's opening event.
func NewStarted(sessionID, projectID string, initedAt int64, env EnvironmentInfo, plugins []PluginInfo) *StartedTelemetryEvent {
	return &StartedTelemetryEvent{
		header:      newHeader(KindStarted, sessionID),
		ProjectID:   projectID,
		InitedAt:    initedAt,
		Environment: env,
		Plugins:     plugins,
	}
}

func (e *StartedTelemetryEvent) String() string {
	return fmt.Sprintf("<%s session_id=%q project_id=%q>", KindStarted, e.SessionID, e.ProjectID)
}

// ArgParseTelemetryEvent captures the raw, redacted process invocation.
type ArgParseTelemetryEvent struct {
	header
	Cmd []string `json:"cmd"`
}

// NewArgParse builds the pre-parse invocation event.
func NewArgParse(sessionID string, cmd []string) *ArgParseTelemetryEvent {
	return &ArgParseTelemetryEvent{
		header: newHeader(KindArgParse, sessionID),
		Cmd:    cmd,
	}
}

func (e *ArgParseTelemetryEvent) String() string {
	return fmt.Sprintf("<%s session_id=%q cmd=%v>", KindArgParse, e.SessionID, e.Cmd)
}

// ArgParsedTelemetryEvent carries the non-default subset of parsed arguments.
type ArgParsedTelemetryEvent struct {
	header
	Args map[string]any `json:"args"`
}

// NewArgParsed builds the post-parse arguments event.
func NewArgParsed(sessionID string, args map[string]any) *ArgParsedTelemetryEvent {
	return &ArgParsedTelemetryEvent{
		header: newHeader(KindArgParsed, sessionID),
		Args:   args,
	}
}

func (e *ArgParsedTelemetryEvent) String() string {
	return fmt.Sprintf("<%s session_id=%q args=%v>", KindArgParsed, e.SessionID, e.Args)
}

// StartupTelemetryEvent carries scenario counts at collection time.
type StartupTelemetryEvent struct {
	header
	Discovered int `json:"discovered"`
	Scheduled  int `json:"scheduled"`
}

// NewStartup builds the scheduling event.
func NewStartup(sessionID string, discovered, scheduled int) *StartupTelemetryEvent {
	return &StartupTelemetryEvent{
		header:     newHeader(KindStartup, sessionID),
		Discovered: discovered,
		Scheduled:  scheduled,
	}
}

func (e *StartupTelemetryEvent) String() string {
	return fmt.Sprintf("<%s session_id=%q discovered=%d scheduled=%d>",
		KindStartup, e.SessionID, e.Discovered, e.Scheduled)
}

// ExcRaisedTelemetryEvent records one failing step's exception.
type ExcRaisedTelemetryEvent struct {
	header
	ScenarioID string        `json:"scenario_id"`
	Exception  ExceptionInfo `json:"exception"`
}

// NewExcRaised builds a step-failure event.
func NewExcRaised(sessionID, scenarioID string, exc ExceptionInfo) *ExcRaisedTelemetryEvent {
	return &ExcRaisedTelemetryEvent{
		header:     newHeader(KindExcRaised, sessionID),
		ScenarioID: scenarioID,
		Exception:  exc,
	}
}

func (e *ExcRaisedTelemetryEvent) String() string {
	return fmt.Sprintf("<%s session_id=%q scenario_id=%q exception=%s>",
		KindExcRaised, e.SessionID, e.ScenarioID, e.Exception.Type)
}

// EndedTelemetryEvent is the terminal event, carrying final counters.
type EndedTelemetryEvent struct {
	header
	Total       int            `json:"total"`
	Passed      int            `json:"passed"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	Interrupted *ExceptionInfo `json:"interrupted"`
}

// NewEnded builds the session's terminal event. interrupted may be nil.
func NewEnded(sessionID string, total, passed, failed, skipped int, interrupted *ExceptionInfo) *EndedTelemetryEvent {
	return &EndedTelemetryEvent{
		header:      newHeader(KindEnded, sessionID),
		Total:       total,
		Passed:      passed,
		Failed:      failed,
		Skipped:     skipped,
		Interrupted: interrupted,
	}
}

func (e *EndedTelemetryEvent) String() string {
	return fmt.Sprintf("<%s session_id=%q total=%d passed=%d failed=%d skipped=%d>",
		KindEnded, e.SessionID, e.Total, e.Passed, e.Failed, e.Skipped)
}
