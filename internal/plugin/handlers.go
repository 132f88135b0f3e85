package plugin

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/tjfontaine/testrun-telemetry/internal/buildinfo"
	"github.com/tjfontaine/testrun-telemetry/internal/events"
	"github.com/tjfontaine/testrun-telemetry/internal/redact"
	"github.com/tjfontaine/testrun-telemetry/internal/scm"
	"github.com/tjfontaine/testrun-telemetry/pkg/runner"
)

// OnConfigLoaded resolves the project identity and environment, records the
// Started event, and arms the exit safety flush.
func (p *Plugin) OnConfigLoaded(_ context.Context, ev *runner.ConfigLoadedEvent) error {
	dir := ev.ProjectDir
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		} else {
			dir = "."
		}
	}
	p.red = redact.New(dir)

	if p.cfg.ProjectID != "" {
		p.projectID = p.cfg.ProjectID
	} else {
		p.projectID = scm.ProjectName(dir, fallbackProjectID)
	}

	plugins := make([]events.PluginInfo, 0, len(ev.Plugins))
	for _, sec := range ev.Plugins {
		// Bundled plugins in their default state carry no signal.
		if strings.HasPrefix(sec.Module, runner.BuiltinPluginPrefix) && sec.Enabled {
			continue
		}
		root := sec.Module
		if i := strings.Index(root, "."); i >= 0 {
			root = root[:i]
		}
		plugins = append(plugins, events.PluginInfo{
			Name:    sec.Name,
			Module:  sec.Module,
			Enabled: sec.Enabled,
			Version: buildinfo.ModuleVersion(root, fallbackVersion),
		})
	}

	framework := ev.FrameworkVersion
	if framework == "" {
		framework = fallbackVersion
	}
	env := events.EnvironmentInfo{
		RuntimeVersion:   buildinfo.RuntimeVersion(),
		FrameworkVersion: framework,
	}

	p.events = append(p.events, events.NewStarted(p.sessionID, p.projectID, p.initedAt, env, plugins))
	p.exitFlushArmed = true
	return nil
}

// OnArgParse captures the raw, redacted process invocation and retains the
// parser schema for OnArgParsed.
func (p *Plugin) OnArgParse(_ context.Context, ev *runner.ArgParseEvent) error {
	p.parser = ev.Parser

	argv := ev.Argv
	if len(argv) == 0 {
		argv = os.Args
	}
	prog := argv[0]
	if abs, err := filepath.Abs(prog); err == nil {
		prog = abs
	}
	cmd := append([]string{prog}, argv[1:]...)

	p.events = append(p.events, events.NewArgParse(p.sessionID, p.redactor().Strings(cmd)))
	return nil
}

// OnArgParsed records the non-default subset of parsed arguments, each under
// its longest flag alias. Defaults are noise, not signal.
func (p *Plugin) OnArgParsed(_ context.Context, ev *runner.ArgParsedEvent) error {
	args := make(map[string]any)

	var actions []runner.ArgAction
	if p.parser != nil {
		actions = p.parser.Actions
	}
	for _, action := range actions {
		val, ok := ev.Args[action.Dest]
		if !ok {
			continue
		}
		if reflect.DeepEqual(val, action.Default) {
			continue
		}
		name := action.Dest
		if len(action.OptionStrings) > 0 {
			name = action.OptionStrings[0]
			for _, opt := range action.OptionStrings[1:] {
				if len(opt) > len(name) {
					name = opt
				}
			}
		}
		args[name] = p.redactor().Value(val)
	}

	p.events = append(p.events, events.NewArgParsed(p.sessionID, args))
	return nil
}

// OnStartup records scenario counts at collection time.
func (p *Plugin) OnStartup(_ context.Context, ev *runner.StartupEvent) error {
	p.events = append(p.events,
		events.NewStartup(p.sessionID, len(ev.Discovered), len(ev.Scheduled)))
	return nil
}

// OnScenarioFailed records one ExcRaised event per failed step carrying
// exception info.
func (p *Plugin) OnScenarioFailed(_ context.Context, ev *runner.ScenarioFailedEvent) error {
	res := ev.Result
	if res == nil {
		return nil
	}
	scenarioID := decodeScenarioID(res.Scenario.UniqueID)

	for _, step := range res.StepResults {
		if step.ExcInfo == nil {
			continue
		}
		p.events = append(p.events,
			events.NewExcRaised(p.sessionID, scenarioID, p.formatException(step.ExcInfo)))
	}
	return nil
}

// OnCleanup records the terminal Ended event, flushes the buffer, and
// disarms the exit safety flush.
func (p *Plugin) OnCleanup(ctx context.Context, ev *runner.CleanupEvent) error {
	report := ev.Report

	var interrupted *events.ExceptionInfo
	if report.Interrupted != nil {
		exc := p.formatException(report.Interrupted)
		interrupted = &exc
	}

	p.events = append(p.events, events.NewEnded(
		p.sessionID, report.Total, report.Passed, report.Failed, report.Skipped, interrupted))

	defer func() { p.exitFlushArmed = false }()
	return p.flush(ctx)
}

func (p *Plugin) formatException(info *runner.ExcInfo) events.ExceptionInfo {
	frames := info.Traceback
	if len(frames) > maxTracebackFrames {
		frames = frames[:maxTracebackFrames]
	}
	return events.ExceptionInfo{
		Type:      info.Type,
		Message:   info.Message,
		Traceback: p.redactor().Strings(frames),
	}
}

// decodeScenarioID normalizes the two scenario-id encodings hosts emit:
// the current "::"-delimited plain form passes through; the older form is
// base64 without padding. An id matching neither is kept verbatim.
func decodeScenarioID(id string) string {
	if strings.Contains(id, "::") {
		return id
	}
	padded := id
	if m := len(id) % 4; m != 0 {
		padded += strings.Repeat("=", 4-m)
	}
	decoded, err := base64.StdEncoding.DecodeString(padded)
	if err != nil {
		return id
	}
	return string(decoded)
}
