// Package runner declares the host test-runner surface the telemetry plugin
// compiles against: the lifecycle events a session emits, the dispatcher they
// arrive on, and the scenario/report shapes those events carry. The host
// framework owns the real implementations; this package pins down the
// contract so the plugin never depends on host internals.
package runner

import "context"

// BuiltinPluginPrefix is the module namespace of the host's bundled plugins.
// Bundled plugins running in their default (enabled) state are not reported.
const BuiltinPluginPrefix = "testrunner.plugins"

// EventKind identifies a lifecycle notification.
type EventKind string

const (
	KindConfigLoaded   EventKind = "config_loaded"
	KindArgParse       EventKind = "arg_parse"
	KindArgParsed      EventKind = "arg_parsed"
	KindStartup        EventKind = "startup"
	KindScenarioFailed EventKind = "scenario_failed"
	KindCleanup        EventKind = "cleanup"
)

// Event is a lifecycle notification emitted by the host.
type Event interface {
	Kind() EventKind
}

// HandlerFunc handles one lifecycle notification. The host fires handlers
// sequentially for a given session; a returned error propagates to the host.
type HandlerFunc func(ctx context.Context, ev Event) error

// Dispatcher routes lifecycle notifications to subscribed handlers.
// Listen returns the dispatcher so subscriptions chain.
type Dispatcher interface {
	Listen(kind EventKind, fn HandlerFunc) Dispatcher
}

// PluginSection describes one plugin known to the host's configuration.
type PluginSection struct {
	Name    string
	Module  string
	Enabled bool
}

// ConfigLoadedEvent fires once the host configuration is resolved.
type ConfigLoadedEvent struct {
	// ProjectDir is the host's resolved project directory. Empty means the
	// host left it to the current working directory.
	ProjectDir string
	// FrameworkVersion is the host framework's own version string, when the
	// host exposes one.
	FrameworkVersion string
	Plugins          []PluginSection
}

func (*ConfigLoadedEvent) Kind() EventKind { return KindConfigLoaded }

// ArgAction is one argument the host's CLI parser declares.
type ArgAction struct {
	// Dest is the destination name the parsed value is stored under.
	Dest string
	// OptionStrings holds the flag aliases, e.g. ["-v", "--verbose"].
	// Empty for positional arguments.
	OptionStrings []string
	// Default is the value used when the argument is absent.
	Default any
}

// ArgParser is the argument schema the host parses the command line with.
type ArgParser struct {
	Actions []ArgAction
}

// ArgParseEvent fires before the host parses the command line.
type ArgParseEvent struct {
	Parser *ArgParser
	// Argv is the raw process invocation. Nil means os.Args.
	Argv []string
}

func (*ArgParseEvent) Kind() EventKind { return KindArgParse }

// ArgParsedEvent fires after the host parses the command line.
type ArgParsedEvent struct {
	// Args maps each ArgAction.Dest present in the parsed result to its value.
	Args map[string]any
}

func (*ArgParsedEvent) Kind() EventKind { return KindArgParsed }

// VirtualScenario is the host's handle on one discovered scenario.
type VirtualScenario struct {
	// UniqueID is the host's opaque scenario identifier. Two encodings exist
	// in the wild: a "::"-delimited plain string, and an older unpadded
	// base64 form.
	UniqueID string
	Subject  string
}

// StartupEvent fires after scenario collection and scheduling.
type StartupEvent struct {
	Discovered []VirtualScenario
	// Scheduled holds the non-ignored subset actually queued to run.
	Scheduled []VirtualScenario
}

func (*StartupEvent) Kind() EventKind { return KindStartup }

// StepResult is the outcome of one step within a scenario run.
type StepResult struct {
	Name    string
	ExcInfo *ExcInfo
}

// ScenarioResult is the outcome of one scenario run.
type ScenarioResult struct {
	Scenario    VirtualScenario
	StepResults []StepResult
}

// ScenarioFailedEvent fires once per failed scenario.
type ScenarioFailedEvent struct {
	Result *ScenarioResult
}

func (*ScenarioFailedEvent) Kind() EventKind { return KindScenarioFailed }

// Report aggregates the session's final counters.
type Report struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	// Interrupted is set when the run was cut short by an exception.
	Interrupted *ExcInfo
}

// CleanupEvent fires once at the end of the session, after all scenarios.
type CleanupEvent struct {
	Report Report
}

func (*CleanupEvent) Kind() EventKind { return KindCleanup }
