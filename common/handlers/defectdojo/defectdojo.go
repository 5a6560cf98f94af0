package defectdojo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/secbot-io/secbot/common/clients"
	"github.com/secbot-io/secbot/common/gitlab"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/workflow"
)

// HandlerName is the registry key of the DefectDojo output.
const HandlerName = "defectdojo"

const apiTimeout = 360 * time.Second

func init() {
	registry.Register("gitlab", registry.RoleOutput, HandlerName, func(deps registry.Deps) any {
		return &Handler{deps: deps}
	})
}

// Credentials is the handler's typed env schema. Env values arrive as
// strings; the lead id is parsed on use.
type Credentials struct {
	URL       string `json:"url"`
	SecretKey string `json:"secret_key"`
	User      string `json:"user"`
	LeadID    string `json:"lead_id"`
}

func (c Credentials) leadID() (int64, error) {
	id, err := strconv.ParseInt(c.LeadID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse defectdojo lead id %q: %w", c.LeadID, err)
	}
	return id, nil
}

// Handler forwards scan artifacts to DefectDojo and validates findings
// for the verdict engine.
type Handler struct {
	deps registry.Deps
}

// Run uploads the scan artifact, waits for the import to settle, records
// the external test id on the scan and returns the output artifact.
func (h *Handler) Run(ctx context.Context, inv registry.Invocation, scanResult *models.ScanResult) (*models.OutputResult, error) {
	var creds Credentials
	if err := registry.DecodeEnv(inv.Env, &creds); err != nil {
		return nil, err
	}

	event, err := scanResult.Input.EventData()
	if err != nil {
		return nil, err
	}

	client := clients.NewDefectDojoClient(creds.URL, creds.SecretKey, apiTimeout, h.deps.Log)
	service := newUploadService(client, h.deps.Log)

	testID, findings, err := service.sendResult(ctx, creds, event, scanResult)
	if err != nil {
		return nil, err
	}

	if err := h.deps.Scans.Complete(ctx, scanResult.ScanID, inv.ComponentName, testID); err != nil {
		return nil, err
	}

	return &models.OutputResult{
		HandlerName:   HandlerName,
		ComponentName: inv.ComponentName,
		ScanResult:    *scanResult,
		Response: models.OutputResponse{
			ProjectName: gitlab.ProjectName(event.Project.GitSSHURL),
			ProjectURL:  event.Project.WebURL,
			Findings:    findings,
		},
	}, nil
}

// FetchStatus validates the findings recorded for the commit across the
// eligible scanners.
func (h *Handler) FetchStatus(ctx context.Context, inv registry.Invocation, eligibleScans []workflow.Component, commitHash string) (bool, error) {
	var creds Credentials
	if err := registry.DecodeEnv(inv.Env, &creds); err != nil {
		return false, err
	}

	client := clients.NewDefectDojoClient(creds.URL, creds.SecretKey, apiTimeout, h.deps.Log)
	validator := NewFindingsValidator(client, eligibleScans, commitHash)
	return validator.IsValid(ctx)
}

// findingURL builds the browse URL of a finding
func findingURL(baseURL string, findingID int64) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Sprintf("%s/finding/%d", baseURL, findingID)
	}
	u.Path = fmt.Sprintf("/finding/%d", findingID)
	u.RawQuery = ""
	return u.String()
}
