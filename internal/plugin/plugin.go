// Package plugin implements the session collector: it subscribes to host
// lifecycle notifications, buffers one telemetry event per observed
// transition, and delivers the batch when the session ends.
package plugin

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/testrun-telemetry/internal/delivery"
	"github.com/tjfontaine/testrun-telemetry/internal/events"
	"github.com/tjfontaine/testrun-telemetry/internal/redact"
	"github.com/tjfontaine/testrun-telemetry/pkg/runner"
)

// SendFunc delivers one serialized event batch. It is the only transport
// contract the collector depends on; substitute it to test deterministically.
type SendFunc func(ctx context.Context, url string, timeout time.Duration, payload any) (int, any, error)

// Config holds the collector's settings.
type Config struct {
	// APIURL is the collection endpoint base; events go to APIURL + "/v1/events".
	APIURL string
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// ProjectID overrides the checkout-derived project identifier.
	ProjectID string
	// RaiseOnFailure propagates delivery errors to the host instead of
	// degrading to a logged diagnostic.
	RaiseOnFailure bool
}

const (
	defaultAPIURL  = "http://localhost:8080"
	defaultTimeout = 5 * time.Second

	fallbackProjectID = "unknown"
	fallbackVersion   = "0.0.0"

	maxTracebackFrames = 100
)

// Plugin buffers telemetry events for exactly one session. Instances are not
// safe for concurrent notifications; the host fires them sequentially.
type Plugin struct {
	cfg    Config
	send   SendFunc
	logger *slog.Logger

	sessionID string
	initedAt  int64
	projectID string

	events         []events.Event
	parser         *runner.ArgParser
	red            *redact.Redactor
	exitFlushArmed bool
}

// Option configures a Plugin at construction.
type Option func(*Plugin)

// WithSendFunc replaces the delivery transport.
func WithSendFunc(fn SendFunc) Option {
	return func(p *Plugin) { p.send = fn }
}

// WithLogger replaces the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) { p.logger = logger }
}

// WithInitedAt overrides the subsystem-load timestamp (ms since epoch)
// stamped on the session's Started event.
func WithInitedAt(ms int64) Option {
	return func(p *Plugin) { p.initedAt = ms }
}

// New creates a collector for one session. Each call yields a fresh
// session identifier.
func New(cfg Config, opts ...Option) *Plugin {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	p := &Plugin{
		cfg:       cfg,
		send:      delivery.SendContext,
		logger:    slog.Default(),
		sessionID: uuid.NewString(),
		initedAt:  time.Now().UnixMilli(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SessionID returns the collector's session identifier.
func (p *Plugin) SessionID() string { return p.sessionID }

// Subscribe registers the collector's handlers on the host dispatcher.
func (p *Plugin) Subscribe(d runner.Dispatcher) {
	d.Listen(runner.KindConfigLoaded, func(ctx context.Context, ev runner.Event) error {
		return p.OnConfigLoaded(ctx, ev.(*runner.ConfigLoadedEvent))
	}).Listen(runner.KindArgParse, func(ctx context.Context, ev runner.Event) error {
		return p.OnArgParse(ctx, ev.(*runner.ArgParseEvent))
	}).Listen(runner.KindArgParsed, func(ctx context.Context, ev runner.Event) error {
		return p.OnArgParsed(ctx, ev.(*runner.ArgParsedEvent))
	}).Listen(runner.KindStartup, func(ctx context.Context, ev runner.Event) error {
		return p.OnStartup(ctx, ev.(*runner.StartupEvent))
	}).Listen(runner.KindScenarioFailed, func(ctx context.Context, ev runner.Event) error {
		return p.OnScenarioFailed(ctx, ev.(*runner.ScenarioFailedEvent))
	}).Listen(runner.KindCleanup, func(ctx context.Context, ev runner.Event) error {
		return p.OnCleanup(ctx, ev.(*runner.CleanupEvent))
	})
}

// Close is the process-exit safety flush: it delivers whatever is still
// buffered when the session never reached its normal end. A no-op once the
// cleanup flush ran or when nothing is buffered.
func (p *Plugin) Close() error {
	if !p.exitFlushArmed || len(p.events) == 0 {
		return nil
	}
	p.exitFlushArmed = false
	return p.flush(context.Background())
}

// flush delivers the buffered batch and unconditionally clears the buffer,
// so a later flush can never re-send stale events.
func (p *Plugin) flush(ctx context.Context) error {
	payload := p.events
	if payload == nil {
		payload = []events.Event{}
	}
	p.events = nil

	url := p.cfg.APIURL + "/v1/events"
	_, _, err := p.send(ctx, url, p.cfg.Timeout, payload)
	if err == nil {
		return nil
	}
	if p.cfg.RaiseOnFailure {
		return err
	}
	p.logger.Error("failed to deliver telemetry events",
		slog.String("session_id", p.sessionID),
		slog.String("error", err.Error()),
	)
	return nil
}

func (p *Plugin) redactor() *redact.Redactor {
	// Before config load the project root defaults to the working directory.
	if p.red == nil {
		p.red = redact.New(".")
	}
	return p.red
}
