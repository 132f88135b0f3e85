package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/testrun-telemetry/internal/delivery"
	"github.com/tjfontaine/testrun-telemetry/pkg/runner"
)

type sentRequest struct {
	url     string
	timeout time.Duration
	payload any
}

// capturingSend records every delivery and returns a fixed outcome.
func capturingSend(calls *[]sentRequest, err error) SendFunc {
	return func(_ context.Context, url string, timeout time.Duration, payload any) (int, any, error) {
		*calls = append(*calls, sentRequest{url: url, timeout: timeout, payload: payload})
		if err != nil {
			return 0, nil, err
		}
		return 200, map[string]any{}, nil
	}
}

func decodePayload(t *testing.T, payload any) []map[string]any {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fireSession(t *testing.T, p *Plugin, evs ...runner.Event) error {
	t.Helper()
	d := runner.NewDispatcher()
	p.Subscribe(d)
	ctx := context.Background()
	for i, ev := range evs {
		if err := d.Fire(ctx, ev); err != nil {
			if i != len(evs)-1 {
				t.Fatalf("event %d failed early: %v", i, err)
			}
			return err
		}
	}
	return nil
}

func TestFullSessionPayload(t *testing.T) {
	var calls []sentRequest
	p := New(Config{APIURL: "http://collector.test/", Timeout: 2 * time.Second},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
		WithInitedAt(777),
	)

	boom := errors.New("assertion failed")
	err := fireSession(t, p,
		&runner.ConfigLoadedEvent{FrameworkVersion: "2.1.0"},
		&runner.ArgParseEvent{Parser: &runner.ArgParser{}, Argv: []string{"prog", "run", "-vv"}},
		&runner.ArgParsedEvent{Args: map[string]any{}},
		&runner.StartupEvent{
			Discovered: make([]runner.VirtualScenario, 10),
			Scheduled:  make([]runner.VirtualScenario, 7),
		},
		&runner.ScenarioFailedEvent{Result: &runner.ScenarioResult{
			Scenario: runner.VirtualScenario{UniqueID: "scenarios/login.go::SignIn"},
			StepResults: []runner.StepResult{
				{Name: "when", ExcInfo: runner.NewExcInfo(boom)},
			},
		}},
		&runner.CleanupEvent{Report: runner.Report{Total: 6, Passed: 3, Failed: 2, Skipped: 1}},
	)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(calls))
	}
	if calls[0].url != "http://collector.test/v1/events" {
		t.Errorf("url = %q, want base + /v1/events with trailing slash trimmed", calls[0].url)
	}
	if calls[0].timeout != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", calls[0].timeout)
	}

	got := decodePayload(t, calls[0].payload)
	wantKinds := []string{
		"StartedTelemetryEvent",
		"ArgParseTelemetryEvent",
		"ArgParsedTelemetryEvent",
		"StartupTelemetryEvent",
		"ExcRaisedTelemetryEvent",
		"EndedTelemetryEvent",
	}
	if len(got) != len(wantKinds) {
		t.Fatalf("payload has %d events, want %d", len(got), len(wantKinds))
	}
	for i, kind := range wantKinds {
		if got[i]["event_id"] != kind {
			t.Errorf("payload[%d].event_id = %v, want %s", i, got[i]["event_id"], kind)
		}
		if got[i]["session_id"] != p.SessionID() {
			t.Errorf("payload[%d].session_id = %v, want %s", i, got[i]["session_id"], p.SessionID())
		}
	}

	started := got[0]
	if started["inited_at"] != float64(777) {
		t.Errorf("inited_at = %v, want 777", started["inited_at"])
	}
	env := started["environment"].(map[string]any)
	if env["framework_version"] != "2.1.0" {
		t.Errorf("framework_version = %v, want 2.1.0", env["framework_version"])
	}
	if !strings.HasPrefix(env["runtime_version"].(string), "go") {
		t.Errorf("runtime_version = %v, want go-prefixed", env["runtime_version"])
	}

	ended := got[5]
	if ended["total"] != float64(6) || ended["passed"] != float64(3) ||
		ended["failed"] != float64(2) || ended["skipped"] != float64(1) {
		t.Errorf("ended counters = %v", ended)
	}
	if ended["interrupted"] != nil {
		t.Errorf("interrupted = %v, want null", ended["interrupted"])
	}

	startup := got[3]
	if startup["discovered"] != float64(10) || startup["scheduled"] != float64(7) {
		t.Errorf("startup counts = %v", startup)
	}
}

func TestArgParseRedactsProgramPath(t *testing.T) {
	var calls []sentRequest
	p := New(Config{},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
	)

	err := fireSession(t, p,
		// Empty ProjectDir resolves to the working directory, which is also
		// what a relative program path resolves against.
		&runner.ConfigLoadedEvent{},
		&runner.ArgParseEvent{Argv: []string{"prog", "run", "-vv"}},
		&runner.CleanupEvent{},
	)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	got := decodePayload(t, calls[0].payload)
	cmdVals := got[1]["cmd"].([]any)
	cmd := make([]string, len(cmdVals))
	for i, v := range cmdVals {
		cmd[i] = v.(string)
	}
	want := []string{"./prog", "run", "-vv"}
	for i := range want {
		if cmd[i] != want[i] {
			t.Errorf("cmd = %v, want %v", cmd, want)
			break
		}
	}
}

func TestArgParsedSkipsDefaults(t *testing.T) {
	var calls []sentRequest
	p := New(Config{},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
	)

	parser := &runner.ArgParser{Actions: []runner.ArgAction{
		{Dest: "verbose", OptionStrings: []string{"-v", "--verbose"}, Default: false},
		{Dest: "workers", OptionStrings: []string{"-w", "--workers"}, Default: 1},
		{Dest: "subject", OptionStrings: nil, Default: ""},
		{Dest: "reruns", OptionStrings: []string{"--reruns"}, Default: 0},
	}}
	err := fireSession(t, p,
		&runner.ConfigLoadedEvent{},
		&runner.ArgParseEvent{Parser: parser, Argv: []string{"prog"}},
		&runner.ArgParsedEvent{Args: map[string]any{
			"verbose": true, // differs from default
			"workers": 1,    // equals default, dropped
			"subject": "login",
			// "reruns" absent from the parsed result, dropped
		}},
		&runner.CleanupEvent{},
	)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	got := decodePayload(t, calls[0].payload)
	args := got[2]["args"].(map[string]any)

	if len(args) != 2 {
		t.Errorf("args = %v, want exactly verbose and subject", args)
	}
	if args["--verbose"] != true {
		t.Errorf("args[--verbose] = %v, want true (longest alias)", args["--verbose"])
	}
	if args["subject"] != "login" {
		t.Errorf("args[subject] = %v, want login (dest name for positional)", args["subject"])
	}
	if _, ok := args["--workers"]; ok {
		t.Error("default-valued --workers leaked into args")
	}
}

func TestScenarioFailedOneEventPerFailingStep(t *testing.T) {
	var calls []sentRequest
	p := New(Config{},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
	)

	longTraceback := make([]string, 150)
	for i := range longTraceback {
		longTraceback[i] = fmt.Sprintf("frame-%d", i)
	}

	err := fireSession(t, p,
		&runner.ConfigLoadedEvent{},
		&runner.ScenarioFailedEvent{Result: &runner.ScenarioResult{
			Scenario: runner.VirtualScenario{UniqueID: "scenarios/login.go::SignIn"},
			StepResults: []runner.StepResult{
				{Name: "given", ExcInfo: nil},
				{Name: "when", ExcInfo: &runner.ExcInfo{Type: "errors.errorString", Message: "boom", Traceback: longTraceback}},
				{Name: "then", ExcInfo: &runner.ExcInfo{Type: "errors.errorString", Message: "bang"}},
			},
		}},
		&runner.CleanupEvent{},
	)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	got := decodePayload(t, calls[0].payload)
	var raised []map[string]any
	for _, ev := range got {
		if ev["event_id"] == "ExcRaisedTelemetryEvent" {
			raised = append(raised, ev)
		}
	}
	if len(raised) != 2 {
		t.Fatalf("ExcRaised events = %d, want 2 (one per failing step)", len(raised))
	}

	first := raised[0]["exception"].(map[string]any)
	if n := len(first["traceback"].([]any)); n != 100 {
		t.Errorf("traceback frames = %d, want capped at 100", n)
	}

	second := raised[1]["exception"].(map[string]any)
	tb, ok := second["traceback"].([]any)
	if !ok || len(tb) != 0 {
		t.Errorf("empty traceback serialized as %v, want []", second["traceback"])
	}
	if raised[0]["scenario_id"] != "scenarios/login.go::SignIn" {
		t.Errorf("scenario_id = %v", raised[0]["scenario_id"])
	}
}

func TestDecodeScenarioID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"delimited passes through", "scenarios/login.go::SignIn", "scenarios/login.go::SignIn"},
		{"base64 without padding", "c2NlbmFyaW8", "scenario"},
		{"base64 already padded", "c2NlbmFyaW8=", "scenario"},
		{"unrecognized kept verbatim", "!!not-base64!!", "!!not-base64!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeScenarioID(tt.id); got != tt.want {
				t.Errorf("decodeScenarioID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestInterruptedReport(t *testing.T) {
	var calls []sentRequest
	p := New(Config{},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
	)

	err := fireSession(t, p,
		&runner.ConfigLoadedEvent{},
		&runner.CleanupEvent{Report: runner.Report{
			Total: 3, Passed: 1, Failed: 1, Skipped: 1,
			Interrupted: &runner.ExcInfo{Type: "runner.Interrupted", Message: "signal: interrupt"},
		}},
	)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	got := decodePayload(t, calls[0].payload)
	interrupted := got[len(got)-1]["interrupted"].(map[string]any)
	if interrupted["type"] != "runner.Interrupted" {
		t.Errorf("interrupted.type = %v", interrupted["type"])
	}
}

func TestFlushClearsBufferOnFailure(t *testing.T) {
	var calls []sentRequest
	sendErr := &delivery.RequestError{URL: "http://collector.test/v1/events", Status: 500, Body: "down"}
	p := New(Config{RaiseOnFailure: false},
		WithSendFunc(capturingSend(&calls, sendErr)),
		WithLogger(quietLogger()),
	)

	err := fireSession(t, p,
		&runner.ConfigLoadedEvent{},
		&runner.CleanupEvent{},
	)
	if err != nil {
		t.Fatalf("lenient policy propagated error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(calls))
	}

	// Buffer was cleared despite the failure; the safety flush has nothing
	// left to send.
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("deliveries after Close = %d, want still 1", len(calls))
	}
}

func TestFailurePolicy(t *testing.T) {
	sendErr := &delivery.RequestError{URL: "http://collector.test/v1/events", Status: 500, Body: "down"}

	t.Run("strict raises", func(t *testing.T) {
		var calls []sentRequest
		p := New(Config{RaiseOnFailure: true},
			WithSendFunc(capturingSend(&calls, sendErr)),
			WithLogger(quietLogger()),
		)
		err := fireSession(t, p,
			&runner.ConfigLoadedEvent{},
			&runner.CleanupEvent{},
		)
		var reqErr *delivery.RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("error = %v, want *delivery.RequestError", err)
		}
	})

	t.Run("lenient logs and continues", func(t *testing.T) {
		var calls []sentRequest
		var logBuf bytes.Buffer
		p := New(Config{RaiseOnFailure: false},
			WithSendFunc(capturingSend(&calls, sendErr)),
			WithLogger(slog.New(slog.NewTextHandler(&logBuf, nil))),
		)
		err := fireSession(t, p,
			&runner.ConfigLoadedEvent{},
			&runner.CleanupEvent{},
		)
		if err != nil {
			t.Fatalf("lenient policy propagated error: %v", err)
		}
		out := logBuf.String()
		if !strings.Contains(out, "failed to deliver telemetry events") {
			t.Errorf("no diagnostic line logged: %q", out)
		}
		if strings.Count(out, "failed to deliver") != 1 {
			t.Errorf("want exactly one diagnostic line, got: %q", out)
		}
	})
}

func TestCloseSafetyFlush(t *testing.T) {
	var calls []sentRequest
	p := New(Config{},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
	)

	t.Run("before config load it is a no-op", func(t *testing.T) {
		if err := p.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if len(calls) != 0 {
			t.Fatalf("deliveries = %d, want 0", len(calls))
		}
	})

	t.Run("abnormal exit drains the buffer once", func(t *testing.T) {
		if err := p.OnConfigLoaded(context.Background(), &runner.ConfigLoadedEvent{}); err != nil {
			t.Fatal(err)
		}
		if err := p.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if len(calls) != 1 {
			t.Fatalf("deliveries = %d, want 1", len(calls))
		}
		if err := p.Close(); err != nil {
			t.Fatalf("second Close() error = %v", err)
		}
		if len(calls) != 1 {
			t.Errorf("second Close re-sent: deliveries = %d", len(calls))
		}
	})
}

func TestCleanupDisarmsSafetyFlush(t *testing.T) {
	var calls []sentRequest
	p := New(Config{},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
	)

	err := fireSession(t, p,
		&runner.ConfigLoadedEvent{},
		&runner.CleanupEvent{},
	)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("deliveries = %d, want 1 (no double-send after normal end)", len(calls))
	}
}

func TestDistinctSessionIDs(t *testing.T) {
	var callsA, callsB []sentRequest
	a := New(Config{}, WithSendFunc(capturingSend(&callsA, nil)), WithLogger(quietLogger()))
	b := New(Config{}, WithSendFunc(capturingSend(&callsB, nil)), WithLogger(quietLogger()))

	for _, p := range []*Plugin{a, b} {
		var calls *[]sentRequest
		if p == a {
			calls = &callsA
		} else {
			calls = &callsB
		}
		if err := fireSession(t, p, &runner.ConfigLoadedEvent{}, &runner.CleanupEvent{}); err != nil {
			t.Fatalf("session failed: %v", err)
		}
		if len(*calls) != 1 {
			t.Fatalf("deliveries = %d, want 1", len(*calls))
		}
	}

	idA := decodePayload(t, callsA[0].payload)[0]["session_id"]
	idB := decodePayload(t, callsB[0].payload)[0]["session_id"]
	if idA == idB {
		t.Errorf("distinct collectors share session_id %v", idA)
	}
}

func TestPluginInventory(t *testing.T) {
	var calls []sentRequest
	p := New(Config{ProjectID: "acme"},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
	)

	err := fireSession(t, p,
		&runner.ConfigLoadedEvent{Plugins: []runner.PluginSection{
			{Name: "Reporter", Module: runner.BuiltinPluginPrefix + ".reporter", Enabled: true},
			{Name: "Skipper", Module: runner.BuiltinPluginPrefix + ".skipper", Enabled: false},
			{Name: "Allure", Module: "allure.reporter", Enabled: true},
		}},
		&runner.CleanupEvent{},
	)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	got := decodePayload(t, calls[0].payload)
	started := got[0]
	if started["project_id"] != "acme" {
		t.Errorf("project_id = %v, want explicit acme", started["project_id"])
	}

	plugins := started["plugins"].([]any)
	if len(plugins) != 2 {
		t.Fatalf("plugins = %v, want disabled builtin + third-party only", plugins)
	}
	names := []string{
		plugins[0].(map[string]any)["name"].(string),
		plugins[1].(map[string]any)["name"].(string),
	}
	if names[0] != "Skipper" || names[1] != "Allure" {
		t.Errorf("plugin names = %v", names)
	}
	// Unresolvable module versions fall back rather than erroring.
	if v := plugins[1].(map[string]any)["version"]; v != "0.0.0" {
		t.Errorf("version = %v, want fallback 0.0.0", v)
	}
}

func TestProjectIDFromCheckout(t *testing.T) {
	dir := t.TempDir()
	checkout := dir + "/wonderland"
	if err := os.MkdirAll(checkout+"/.git", 0o755); err != nil {
		t.Fatal(err)
	}

	var calls []sentRequest
	p := New(Config{},
		WithSendFunc(capturingSend(&calls, nil)),
		WithLogger(quietLogger()),
	)

	err := fireSession(t, p,
		&runner.ConfigLoadedEvent{ProjectDir: checkout},
		&runner.CleanupEvent{},
	)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	got := decodePayload(t, calls[0].payload)
	if got[0]["project_id"] != "wonderland" {
		t.Errorf("project_id = %v, want wonderland", got[0]["project_id"])
	}
}
