package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/secbot-io/secbot/common/broker"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/secerr"
)

// Executor is the worker-side task wrapper: it rebuilds the typed argument
// from the envelope, resolves the handler, and routes failures to the
// failure hook.
type Executor struct {
	engine *Engine
	input  *registry.Input
	deps   registry.Deps
}

// NewExecutor creates a task executor for one input source
func NewExecutor(engine *Engine, input *registry.Input, deps registry.Deps) *Executor {
	return &Executor{
		engine: engine,
		input:  input,
		deps:   deps,
	}
}

// Handle implements broker.TaskHandler. The handler role is selected by
// the decoded argument variant: input data runs a scan, a scan result runs
// an output, an output result runs a notification.
func (x *Executor) Handle(ctx context.Context, envelope *broker.Envelope) (json.RawMessage, error) {
	spec := envelope.Task
	inv := registry.Invocation{
		ComponentName: spec.ComponentName,
		Config:        spec.Config,
		Env:           spec.Env,
	}
	log := x.engine.log.WithComponent(spec.ComponentName)

	args, err := models.DecodePayload(spec.Args)
	if err != nil {
		// Permanent: the broker drops the message without retry.
		return nil, err
	}

	handler, err := x.input.Handler(spec.HandlerName)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, runErr := x.run(ctx, handler, inv, args)
	elapsed := time.Since(started).Seconds()

	if runErr != nil {
		x.engine.metrics.ObserveTask(spec.HandlerName, "failure", elapsed)
		log.Error("task failed", "task", spec.Name, "error", runErr)
		return nil, x.handleFailure(ctx, handler, inv, args, runErr)
	}

	x.engine.metrics.ObserveTask(spec.HandlerName, "success", elapsed)
	log.Info("task finished", "task", spec.Name, "duration_s", elapsed)

	if result == nil {
		return nil, nil
	}
	return models.EncodePayload(result)
}

func (x *Executor) run(ctx context.Context, handler any, inv registry.Invocation, args any) (any, error) {
	switch arg := args.(type) {
	case *models.InputData:
		scanHandler, ok := handler.(registry.ScanHandler)
		if !ok {
			return nil, secerr.Newf(secerr.KindInput, "handler %q cannot run scans", inv.ComponentName)
		}
		return scanHandler.Run(ctx, inv, arg)

	case *models.ScanResult:
		outputHandler, ok := handler.(registry.OutputHandler)
		if !ok {
			return nil, secerr.Newf(secerr.KindInput, "handler %q cannot run outputs", inv.ComponentName)
		}
		return outputHandler.Run(ctx, inv, arg)

	case *models.OutputResult:
		notificationHandler, ok := handler.(registry.NotificationHandler)
		if !ok {
			return nil, secerr.Newf(secerr.KindInput, "handler %q cannot run notifications", inv.ComponentName)
		}
		return nil, notificationHandler.Run(ctx, inv, arg)

	default:
		return nil, secerr.Newf(secerr.KindInput, "handler %q cannot accept payload %T", inv.ComponentName, args)
	}
}

// handleFailure routes a task failure to the handler's failure hook, or to
// the default hook flipping the owning scan to SKIP/ERROR. A hook that
// succeeds halts the chain; a hook that fails leaves the task pending for
// the broker's retry.
func (x *Executor) handleFailure(ctx context.Context, handler any, inv registry.Invocation, args any, cause error) error {
	if secerr.Is(cause, secerr.KindInput) {
		// Misrouted or malformed work; retrying cannot help.
		return cause
	}
	if secerr.Is(cause, secerr.KindScanCantBeScanned) {
		// The start guard rejected a concurrent or replayed scan. The
		// existing row keeps its status; only this chain stops.
		return broker.ErrChainHalted
	}

	if hook, ok := handler.(registry.FailureHook); ok {
		if err := hook.OnFailure(ctx, inv, args, cause); err != nil {
			return err
		}
		return broker.ErrChainHalted
	}

	checkID, scanName, ok := failureTarget(inv, args)
	if !ok {
		return cause
	}
	if err := x.deps.Scans.HandleFailure(ctx, checkID, scanName, cause); err != nil {
		return err
	}
	return broker.ErrChainHalted
}

// failureTarget derives the owning scan identity from the original task
// arguments.
func failureTarget(inv registry.Invocation, args any) (int64, string, bool) {
	switch arg := args.(type) {
	case *models.InputData:
		return arg.CheckID, inv.ComponentName, true
	case *models.ScanResult:
		return arg.Input.CheckID, arg.ComponentName, true
	case *models.OutputResult:
		return arg.ScanResult.Input.CheckID, arg.ScanResult.ComponentName, true
	default:
		return 0, "", false
	}
}
