package pipeline

import (
	"context"
	"fmt"

	"github.com/secbot-io/secbot/common/broker"
	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/workflow"
)

// Engine schedules and executes the scan -> output -> notify pipeline of a
// matched job.
type Engine struct {
	broker  *broker.Broker
	log     *logger.Logger
	metrics TaskMetrics
}

// TaskMetrics records task outcomes. A nil-safe no-op implementation is
// used when metrics are disabled.
type TaskMetrics interface {
	ObserveTask(handler string, outcome string, seconds float64)
}

// NewEngine creates a pipeline engine
func NewEngine(taskBroker *broker.Broker, log *logger.Logger, metrics TaskMetrics) *Engine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{
		broker:  taskBroker,
		log:     log,
		metrics: metrics,
	}
}

// Dispatch enqueues the job's pipeline for one input record. Every scan
// task is chained into every output task, and each output completion fans
// out the notification group:
//
//	for each scan:
//	    for each output:
//	        chain(scan, output, group(notifications))
func (e *Engine) Dispatch(ctx context.Context, job *workflow.Job, input *models.InputData) error {
	args, err := models.EncodePayload(input)
	if err != nil {
		return fmt.Errorf("encode input data: %w", err)
	}

	scanSpecs := buildSpecs(job.Scans, args)
	outputSpecs := buildSpecs(job.Outputs, nil)
	notificationSpecs := buildSpecs(job.Notifications, nil)

	for _, scanSpec := range scanSpecs {
		for _, outputSpec := range outputSpecs {
			nodes := []broker.Node{
				broker.Single(scanSpec),
				broker.Single(outputSpec),
			}
			if len(notificationSpecs) > 0 {
				nodes = append(nodes, broker.Group(notificationSpecs))
			}

			chain, err := broker.Chain(nodes...)
			if err != nil {
				return fmt.Errorf("build chain for job %s: %w", job.Name, err)
			}
			if err := e.broker.Enqueue(ctx, chain); err != nil {
				return err
			}
		}
	}

	e.log.Info("pipeline dispatched",
		"job", job.Name,
		"check_id", input.CheckID,
		"scans", len(scanSpecs),
		"outputs", len(outputSpecs),
		"notifications", len(notificationSpecs))
	return nil
}

// buildSpecs materializes the task specs of one component list. Task names
// follow the `handler.<component>` convention.
func buildSpecs(components []workflow.Component, args []byte) []broker.TaskSpec {
	specs := make([]broker.TaskSpec, 0, len(components))
	for _, component := range components {
		specs = append(specs, broker.TaskSpec{
			Name:          fmt.Sprintf("handler.%s", component.Name),
			HandlerName:   component.HandlerName,
			ComponentName: component.Name,
			Config:        component.Config,
			Env:           component.Env,
			Args:          args,
		})
	}
	return specs
}

type noopMetrics struct{}

func (noopMetrics) ObserveTask(string, string, float64) {}
