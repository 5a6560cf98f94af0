package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/secbot-io/secbot/common/config"
	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/metrics"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/repository"
	"github.com/secbot-io/secbot/common/secerr"
	"github.com/secbot-io/secbot/common/workflow"
)

// Role partitions handlers by their place in the pipeline.
type Role string

const (
	RoleScan         Role = "scan"
	RoleOutput       Role = "output"
	RoleNotification Role = "notification"
)

// Invocation carries the component binding the runtime injects alongside
// the runtime arguments: the component name and its validated config/env.
type Invocation struct {
	ComponentName string
	Config        map[string]any
	Env           map[string]string
}

// ScanHandler runs a scanner against the event's commit and produces the
// scan artifact.
type ScanHandler interface {
	Run(ctx context.Context, inv Invocation, input *models.InputData) (*models.ScanResult, error)
}

// OutputHandler forwards a scan artifact to a vulnerability manager and
// answers verdict queries for the scans it ingested.
type OutputHandler interface {
	Run(ctx context.Context, inv Invocation, scan *models.ScanResult) (*models.OutputResult, error)
	FetchStatus(ctx context.Context, inv Invocation, eligibleScans []workflow.Component, commitHash string) (bool, error)
}

// NotificationHandler delivers an output result to an operator channel.
type NotificationHandler interface {
	Run(ctx context.Context, inv Invocation, output *models.OutputResult) error
}

// FailureHook may be implemented by any handler to override the default
// failure handling of its tasks. It receives the original task arguments
// and the error that aborted the task.
type FailureHook interface {
	OnFailure(ctx context.Context, inv Invocation, args any, cause error) error
}

// Deps is what a handler factory may capture from the process runtime.
type Deps struct {
	Log           *logger.Logger
	Cfg           *config.Config
	Metrics       *metrics.Metrics
	Checks        *repository.CheckRepository
	Scans         *repository.ScanRepository
	Notifications *repository.NotificationRepository
}

// Factory builds a handler instance from the runtime dependencies.
type Factory func(deps Deps) any

type registration struct {
	role    Role
	factory Factory
}

var (
	mu     sync.RWMutex
	inputs = make(map[string]map[string]registration)
)

// Register adds a handler factory under an input source namespace. Handler
// packages call this from init; registration is keyed by handler name, so
// one handler may back many components.
func Register(inputName string, role Role, handlerName string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	handlers, ok := inputs[inputName]
	if !ok {
		handlers = make(map[string]registration)
		inputs[inputName] = handlers
	}
	handlers[handlerName] = registration{role: role, factory: factory}
}

// Input groups the instantiated handlers of one input source by role.
type Input struct {
	Name string

	scans         map[string]ScanHandler
	outputs       map[string]OutputHandler
	notifications map[string]NotificationHandler
}

// BuildInput instantiates every handler registered under the input source
// and groups them by role. A factory whose product does not implement its
// declared role is a registration error.
func BuildInput(inputName string, deps Deps) (*Input, error) {
	mu.RLock()
	defer mu.RUnlock()

	in := &Input{
		Name:          inputName,
		scans:         make(map[string]ScanHandler),
		outputs:       make(map[string]OutputHandler),
		notifications: make(map[string]NotificationHandler),
	}

	for handlerName, reg := range inputs[inputName] {
		instance := reg.factory(deps)
		switch reg.role {
		case RoleScan:
			handler, ok := instance.(ScanHandler)
			if !ok {
				return nil, secerr.Newf(secerr.KindInput, "handler %q does not implement the scan role", handlerName)
			}
			in.scans[handlerName] = handler
		case RoleOutput:
			handler, ok := instance.(OutputHandler)
			if !ok {
				return nil, secerr.Newf(secerr.KindInput, "handler %q does not implement the output role", handlerName)
			}
			in.outputs[handlerName] = handler
		case RoleNotification:
			handler, ok := instance.(NotificationHandler)
			if !ok {
				return nil, secerr.Newf(secerr.KindInput, "handler %q does not implement the notification role", handlerName)
			}
			in.notifications[handlerName] = handler
		default:
			return nil, secerr.Newf(secerr.KindInput, "handler %q registered with unknown role %q", handlerName, reg.role)
		}
	}

	return in, nil
}

// Scan returns the scan handler registered under the given name.
func (in *Input) Scan(handlerName string) (ScanHandler, error) {
	handler, ok := in.scans[handlerName]
	if !ok {
		return nil, secerr.Newf(secerr.KindInput, "no scan handler %q for input %s", handlerName, in.Name)
	}
	return handler, nil
}

// Output returns the output handler registered under the given name.
func (in *Input) Output(handlerName string) (OutputHandler, error) {
	handler, ok := in.outputs[handlerName]
	if !ok {
		return nil, secerr.Newf(secerr.KindInput, "no output handler %q for input %s", handlerName, in.Name)
	}
	return handler, nil
}

// Notification returns the notification handler registered under the given name.
func (in *Input) Notification(handlerName string) (NotificationHandler, error) {
	handler, ok := in.notifications[handlerName]
	if !ok {
		return nil, secerr.Newf(secerr.KindInput, "no notification handler %q for input %s", handlerName, in.Name)
	}
	return handler, nil
}

// Handler returns the handler registered under the given name in any role.
func (in *Input) Handler(handlerName string) (any, error) {
	if handler, ok := in.scans[handlerName]; ok {
		return handler, nil
	}
	if handler, ok := in.outputs[handlerName]; ok {
		return handler, nil
	}
	if handler, ok := in.notifications[handlerName]; ok {
		return handler, nil
	}
	return nil, secerr.Newf(secerr.KindInput, "no handler %q for input %s", handlerName, in.Name)
}

// HandlerNames lists the registered handler names for an input, sorted.
func HandlerNames(inputName string) []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(inputs[inputName]))
	for name := range inputs[inputName] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
