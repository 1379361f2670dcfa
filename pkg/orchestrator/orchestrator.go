package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/policy"
	"github.com/openfroyo/scripthost/pkg/stores"
	"github.com/openfroyo/scripthost/pkg/telemetry"
	"github.com/openfroyo/scripthost/pkg/value"
	"github.com/openfroyo/scripthost/pkg/workspace"
)

// State is the lifecycle state of an Orchestrator.
type State int

const (
	Uninitialized State = iota
	Ready
	Executing
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotReady is the cause of every Run rejected because of the state.
var ErrNotReady = errors.New("orchestrator is not ready")

// Options configures an Orchestrator.
type Options struct {
	// Telemetry supplies the logger, tracer and metrics. Nil disables them.
	Telemetry *telemetry.Telemetry

	// Gate checks every capability call. When nil, Initialize builds one
	// from the built-in policies, PolicyDirs and the workspace's policy.
	Gate *policy.Engine

	// PolicyDirs are loaded into the gate Initialize builds.
	PolicyDirs []string

	// Middleware wraps capability calls inside the gate.
	Middleware []capability.Middleware

	// DefaultTimeout bounds runs of workspaces that set no timeout.
	DefaultTimeout time.Duration
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Value    value.Value
	Duration time.Duration
}

// Orchestrator binds a workspace's capability surface into the engine its
// config selects and runs scripts against it, one at a time.
type Orchestrator struct {
	opts   Options
	tel    *telemetry.Telemetry
	logger *telemetry.Logger

	mu      sync.Mutex
	state   State
	fault   error
	ws      *workspace.Context
	engine  engine.Engine
	surface *capability.Surface
}

// New creates an uninitialized orchestrator.
func New(opts Options) *Orchestrator {
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.NopTelemetry()
	}
	return &Orchestrator{
		opts:   opts,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("orchestrator"),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Fault returns the error that moved the orchestrator to Faulted.
func (o *Orchestrator) Fault() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fault
}

// Workspace returns the initialized workspace, or nil.
func (o *Orchestrator) Workspace() *workspace.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ws
}

// Initialize resolves the engine for ws, builds its capability surface and
// binds it. On success the orchestrator is Ready; on failure it is Faulted
// and the originating error is returned. Initialize may be called again
// from any state except Executing.
func (o *Orchestrator) Initialize(ctx context.Context, ws *workspace.Context, factory *engine.Factory) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == Executing {
		err := hosterr.NewConcurrencyError("cannot initialize while a run is executing")
		err.Err = ErrNotReady
		return err
	}

	if ws == nil || ws.Config == nil {
		o.state = Faulted
		o.fault = hosterr.NewInvalidArgumentError("workspace is required")
		return o.fault
	}

	logger := o.logger.WithWorkspace(ws.Name).WithEngine(ws.Config.Engine)
	eng, surface, err := o.prepare(ctx, ws, factory)
	if err != nil {
		o.state = Faulted
		o.fault = err
		o.ws, o.engine, o.surface = ws, nil, nil
		logger.WithError(err).Error("Workspace initialization failed")
		return err
	}

	o.ws, o.engine, o.surface = ws, eng, surface
	o.state = Ready
	o.fault = nil
	logger.Debug("Workspace initialized")
	return nil
}

func (o *Orchestrator) prepare(ctx context.Context, ws *workspace.Context, factory *engine.Factory) (engine.Engine, *capability.Surface, error) {
	if factory == nil {
		return nil, nil, hosterr.NewInvalidArgumentError("engine factory is required")
	}

	eng, err := factory.Get(engine.Kind(ws.Config.Engine))
	if err != nil {
		return nil, nil, err
	}

	gate, err := o.gate(ctx, ws)
	if err != nil {
		return nil, nil, err
	}

	cfg := ws.SurfaceConfig(o.logger.WithWorkspace(ws.Name).Zerolog())
	cfg.Middleware = append(cfg.Middleware, o.tel.Middleware()...)
	cfg.Middleware = append(cfg.Middleware, gate.Middleware(ws.Name))
	cfg.Middleware = append(cfg.Middleware, o.opts.Middleware...)

	surface, err := capability.Build(cfg)
	if err != nil {
		return nil, nil, hosterr.NewInvalidStateError(fmt.Sprintf("failed to build capability surface: %v", err))
	}

	err = eng.Exclusive(func(s engine.Session) error {
		return engine.BindSurface(s, surface)
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, surface, nil
}

func (o *Orchestrator) gate(ctx context.Context, ws *workspace.Context) (*policy.Engine, error) {
	if o.opts.Gate != nil {
		return o.opts.Gate, nil
	}
	return LoadGate(ctx, o.logger.Zerolog(), ws, o.opts.PolicyDirs)
}

// LoadGate builds a policy engine holding the built-in policies, the
// policies under dirs and the workspace's own policy.
func LoadGate(ctx context.Context, logger zerolog.Logger, ws *workspace.Context, dirs []string) (*policy.Engine, error) {
	gate, err := policy.NewEngine(logger)
	if err != nil {
		return nil, hosterr.NewEngineError("failed to create policy gate", err)
	}
	paths := append(append([]string(nil), dirs...), ws.PolicyPaths()...)
	if len(paths) > 0 {
		if err := gate.LoadPolicies(ctx, paths); err != nil {
			return nil, hosterr.NewInvalidArgumentError(fmt.Sprintf("failed to load policies: %v", err))
		}
	}
	return gate, nil
}

// Run executes source in the initialized workspace. It is valid only from
// Ready: a call while another run executes fails with a concurrency error,
// any other state with an invalid_state error. Script and capability
// failures return the orchestrator to Ready; an engine panic or a closed
// engine moves it to Faulted until Initialize succeeds again.
//
// The returned Result is non-nil whenever the run started, including
// failed runs, so callers can report the run ID.
func (o *Orchestrator) Run(ctx context.Context, source string) (*Result, error) {
	o.mu.Lock()
	switch o.state {
	case Ready:
	case Executing:
		o.mu.Unlock()
		err := hosterr.NewConcurrencyError("a run is already executing on this orchestrator")
		err.Err = ErrNotReady
		return nil, err
	default:
		state := o.state
		o.mu.Unlock()
		err := hosterr.NewInvalidStateError(fmt.Sprintf("cannot run while %s", state)).
			WithDetail("state", state.String())
		err.Err = ErrNotReady
		return nil, err
	}
	o.state = Executing
	ws, eng, surface := o.ws, o.engine, o.surface
	o.mu.Unlock()

	result := &Result{RunID: uuid.NewString()}
	started := time.Now()
	kind := string(eng.Kind())
	logger := o.logger.WithWorkspace(ws.Name).WithEngine(kind).WithRunID(result.RunID)

	timeout := ws.RunTimeout()
	if timeout == 0 {
		timeout = o.opts.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := o.tel.Tracer.StartRunSpan(ctx, result.RunID, ws.Name, kind)
	defer span.End()
	ctx = logger.WithContext(ctx)
	o.tel.Metrics.RecordRunStarted()
	o.recordStart(ctx, ws, result.RunID, kind, started, source, logger)
	logger.Debug("Run started")

	v, fatal, err := execute(ctx, eng, surface, source)
	result.Value = v
	result.Duration = time.Since(started)

	status := runStatus(ctx, err)
	o.tel.Metrics.RecordRunCompleted(kind, string(status), result.Duration)
	o.recordFinish(ctx, ws, result.RunID, status, err, logger)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}

	o.mu.Lock()
	if fatal {
		o.state = Faulted
		o.fault = err
	} else {
		o.state = Ready
	}
	o.mu.Unlock()

	switch {
	case fatal:
		logger.WithError(err).Error("Engine fault; orchestrator is faulted")
	case err != nil:
		logger.WithError(err).WithField("kind", string(hosterr.KindOf(err))).Warn("Run failed")
	default:
		logger.WithField("duration", result.Duration.String()).Debug("Run completed")
	}
	return result, err
}

// execute runs source with the surface rebound, so a shared engine always
// sees this workspace's capabilities. A panic is reported as fatal.
func execute(ctx context.Context, eng engine.Engine, surface *capability.Surface, source string) (v value.Value, fatal bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = value.Null()
			err = hosterr.NewEngineError(fmt.Sprintf("%s engine panicked: %v", eng.Kind(), r), nil)
			fatal = true
		}
	}()

	v = value.Null()
	err = eng.Exclusive(func(s engine.Session) error {
		if err := engine.BindSurface(s, surface); err != nil {
			return err
		}
		out, err := s.Execute(ctx, source)
		v = out
		return err
	})
	if errors.Is(err, engine.ErrClosed) {
		fatal = true
	}
	if err != nil {
		v = value.Null()
	}
	return v, fatal, err
}

func runStatus(ctx context.Context, err error) stores.RunStatus {
	switch {
	case err == nil:
		return stores.RunStatusCompleted
	case ctx.Err() != nil:
		return stores.RunStatusCancelled
	default:
		return stores.RunStatusFailed
	}
}

// recordStart and recordFinish keep run history. History failures are
// logged and never fail the run.
func (o *Orchestrator) recordStart(ctx context.Context, ws *workspace.Context, id, kind string, started time.Time, source string, logger *telemetry.Logger) {
	metadata, _ := json.Marshal(map[string]interface{}{
		"source_bytes": len(source),
		"trace_id":     telemetry.TraceID(ctx),
	})
	run := &stores.Run{
		ID:         id,
		Workspace:  ws.Name,
		EngineKind: kind,
		Status:     stores.RunStatusRunning,
		StartedAt:  started,
		Metadata:   string(metadata),
	}
	if err := ws.Store.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.WithError(err).Warn("Failed to record run")
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, ws *workspace.Context, id string, status stores.RunStatus, runErr error, logger *telemetry.Logger) {
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	if err := ws.Store.UpdateRunStatus(context.WithoutCancel(ctx), id, status, msg); err != nil {
		logger.WithError(err).Warn("Failed to update run record")
	}
}
