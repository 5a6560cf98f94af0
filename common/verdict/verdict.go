package verdict

import (
	"context"

	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/workflow"
)

// CheckStore is the verdict engine's read access to checks.
type CheckStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Check, error)
}

// ScanStore is the verdict engine's read access to scans.
type ScanStore interface {
	ListByCheck(ctx context.Context, checkID int64) ([]*models.Scan, error)
}

// OutputLookup resolves an output handler by name.
type OutputLookup interface {
	Output(handlerName string) (registry.OutputHandler, error)
}

// Resolver aggregates scan and output results of a check into the
// externally visible verdict.
type Resolver struct {
	checks  CheckStore
	scans   ScanStore
	config  *workflow.Config
	outputs OutputLookup
	input   string
	log     *logger.Logger
}

// NewResolver creates a verdict resolver for one input source
func NewResolver(
	checks CheckStore,
	scans ScanStore,
	config *workflow.Config,
	outputs OutputLookup,
	inputName string,
	log *logger.Logger,
) *Resolver {
	return &Resolver{
		checks:  checks,
		scans:   scans,
		config:  config,
		outputs: outputs,
		input:   inputName,
		log:     log,
	}
}

// Resolve walks the check's scans and derives the security check status.
// It never errors on partial pipeline state; only infrastructure failures
// return an error.
func (r *Resolver) Resolve(ctx context.Context, externalID string) (models.SecurityCheckStatus, error) {
	check, err := r.checks.GetByExternalID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if check == nil {
		return models.CheckNotStarted, nil
	}

	scans, err := r.scans.ListByCheck(ctx, check.ID)
	if err != nil {
		return "", err
	}

	// The job that scheduled this check still defines how many scans are
	// expected; only one job can match a payload.
	job, err := r.config.MatchingJob(r.input, check.EventJSON)
	if err != nil {
		return "", err
	}
	if job == nil {
		r.log.Warn("no job matches stored check payload", "external_id", externalID)
		return models.CheckError, nil
	}

	if len(scans) < len(job.Scans) {
		return models.CheckInProgress, nil
	}
	if len(scans) > len(job.Scans) {
		return models.CheckError, nil
	}

	// Skipped scans are not blocking and drop out of the verdict.
	remaining := make([]*models.Scan, 0, len(scans))
	for _, scan := range scans {
		if scan.Status != models.ScanSkip {
			remaining = append(remaining, scan)
		}
	}

	for _, scan := range remaining {
		if scan.Status == models.ScanError {
			return models.CheckError, nil
		}
	}
	for _, scan := range remaining {
		if scan.Status == models.ScanInProgress {
			return models.CheckInProgress, nil
		}
	}

	for _, scan := range remaining {
		if scan.Status != models.ScanDone {
			return models.CheckError, nil
		}
	}

	return r.validateOutputs(ctx, job, remaining, check.CommitHash)
}

// validateOutputs restricts the job's outputs and scans to those that
// actually produced rows ("eligible") and asks each eligible output to
// validate its findings.
func (r *Resolver) validateOutputs(
	ctx context.Context,
	job *workflow.Job,
	scans []*models.Scan,
	commitHash string,
) (models.SecurityCheckStatus, error) {
	outputNames := make(map[string]bool)
	scanNames := make(map[string]bool)
	for _, scan := range scans {
		scanNames[scan.ScanName] = true
		for outputName := range scan.OutputsTestID {
			outputNames[outputName] = true
		}
	}

	eligibleOutputs := make([]workflow.Component, 0, len(job.Outputs))
	for _, output := range job.Outputs {
		if outputNames[output.Name] {
			eligibleOutputs = append(eligibleOutputs, output)
		}
	}
	eligibleScans := make([]workflow.Component, 0, len(job.Scans))
	for _, scan := range job.Scans {
		if scanNames[scan.Name] {
			eligibleScans = append(eligibleScans, scan)
		}
	}

	for _, output := range eligibleOutputs {
		handler, err := r.outputs.Output(output.HandlerName)
		if err != nil {
			return "", err
		}
		inv := registry.Invocation{
			ComponentName: output.Name,
			Config:        output.Config,
			Env:           output.Env,
		}
		ok, err := handler.FetchStatus(ctx, inv, eligibleScans, commitHash)
		if err != nil {
			return "", err
		}
		if !ok {
			return models.CheckFail, nil
		}
	}

	return models.CheckSuccess, nil
}
