package gitleaks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/secbot-io/secbot/common/clients"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/secerr"
)

// HandlerName is the registry key of the gitleaks scanner.
const HandlerName = "gitleaks"

func init() {
	registry.Register("gitlab", registry.RoleScan, HandlerName, func(deps registry.Deps) any {
		return &Handler{
			deps:   deps,
			cloner: clients.NewGitCloner(deps.Log),
		}
	})
}

// Config is the handler's typed config schema
type Config struct {
	Format string `json:"format"`
}

// Handler runs the gitleaks binary against a clone of the event's commit
type Handler struct {
	deps   registry.Deps
	cloner *clients.GitCloner
}

// Run clones the repository, runs gitleaks, persists the raw report on the
// scan row and returns the scan artifact.
func (h *Handler) Run(ctx context.Context, inv registry.Invocation, input *models.InputData) (*models.ScanResult, error) {
	cfg := Config{Format: "json"}
	if err := registry.DecodeConfig(inv.Config, &cfg); err != nil {
		return nil, err
	}

	event, err := input.EventData()
	if err != nil {
		return nil, err
	}

	scan, err := h.deps.Scans.Start(ctx, input.CheckID, inv.ComponentName)
	if err != nil {
		return nil, err
	}

	host, err := event.Host()
	if err != nil {
		return nil, err
	}
	gitlabCfg, err := h.deps.Cfg.GitlabForHost(host)
	if err != nil {
		return nil, err
	}

	repoDir, cleanup, err := h.cloner.Clone(ctx, event.Project.GitHTTPURL, event.Commit.ID, gitlabCfg.AuthToken)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	report, err := h.detect(ctx, repoDir, cfg.Format)
	if err != nil {
		return nil, err
	}

	if err := h.deps.Scans.SetResponse(ctx, scan.ID, report); err != nil {
		return nil, err
	}

	return &models.ScanResult{
		ScanID:        scan.ID,
		HandlerName:   HandlerName,
		ComponentName: inv.ComponentName,
		Input:         *input,
		File: models.ScanResultFile{
			CommitHash: event.Commit.ID,
			ScanName:   HandlerName,
			Format:     cfg.Format,
			Content:    report,
		},
	}, nil
}

// detect runs the scanner and reads its report. A nonzero exit is how
// gitleaks signals findings, so only a missing or crashing binary is a
// scan failure.
func (h *Handler) detect(ctx context.Context, repoDir, format string) (json.RawMessage, error) {
	reportDir, err := os.MkdirTemp("", "secbot-gitleaks-")
	if err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	defer os.RemoveAll(reportDir)

	reportPath := filepath.Join(reportDir, "report."+format)
	cmd := exec.CommandContext(ctx, "gitleaks", "detect", "--redact", "-f", format, "-r", reportPath)
	cmd.Dir = repoDir

	if output, err := cmd.CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, secerr.Wrap(secerr.KindScanCheckFailed, "gitleaks could not run", err)
		}
		h.deps.Log.Debug("gitleaks exited nonzero", "output", string(output))
	}

	report, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, secerr.Wrap(secerr.KindScanCheckFailed, "read gitleaks report", err)
	}
	if !json.Valid(report) {
		return nil, secerr.New(secerr.KindScanCheckFailed, "gitleaks report is not valid JSON")
	}
	return report, nil
}
