package verdict

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/workflow"
)

const mergeRequestPayload = `{"event_type": "merge_request"}`

type fakeCheckStore struct {
	check *models.Check
}

func (s *fakeCheckStore) GetByExternalID(_ context.Context, externalID string) (*models.Check, error) {
	if s.check != nil && s.check.ExternalID == externalID {
		return s.check, nil
	}
	return nil, nil
}

type fakeScanStore struct {
	scans []*models.Scan
}

func (s *fakeScanStore) ListByCheck(context.Context, int64) ([]*models.Scan, error) {
	return s.scans, nil
}

type fakeOutputHandler struct {
	valid         bool
	calls         int
	eligibleScans []workflow.Component
	commitHash    string
}

func (h *fakeOutputHandler) Run(context.Context, registry.Invocation, *models.ScanResult) (*models.OutputResult, error) {
	return nil, nil
}

func (h *fakeOutputHandler) FetchStatus(_ context.Context, _ registry.Invocation, eligibleScans []workflow.Component, commitHash string) (bool, error) {
	h.calls++
	h.eligibleScans = eligibleScans
	h.commitHash = commitHash
	return h.valid, nil
}

type fakeOutputLookup struct {
	handlers map[string]*fakeOutputHandler
}

func (l *fakeOutputLookup) Output(handlerName string) (registry.OutputHandler, error) {
	return l.handlers[handlerName], nil
}

func twoScanConfig(t *testing.T) *workflow.Config {
	t.Helper()
	cfg, err := workflow.Parse([]byte(`
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
  semgrep:
    handler_name: semgrep
  dd:
    handler_name: defectdojo
jobs:
  - name: merge_requests
    rules:
      gitlab:
        event_type: "merge_request"
    scans: [gitleaks, semgrep]
    outputs: [dd]
`))
	require.NoError(t, err)
	return cfg
}

func newResolver(t *testing.T, checks *fakeCheckStore, scans *fakeScanStore, lookup *fakeOutputLookup) *Resolver {
	t.Helper()
	return NewResolver(
		checks,
		scans,
		twoScanConfig(t),
		lookup,
		"gitlab",
		logger.New("error", "json"),
	)
}

func testCheck() *models.Check {
	return &models.Check{
		ID:         1,
		ExternalID: "gl_abc",
		CommitHash: "deadbeef",
		EventJSON:  json.RawMessage(mergeRequestPayload),
	}
}

func scanRow(name string, status models.ScanStatus, outputs map[string]any) *models.Scan {
	return &models.Scan{CheckID: 1, ScanName: name, Status: status, OutputsTestID: outputs}
}

func TestResolve_UnknownCheck(t *testing.T) {
	resolver := newResolver(t, &fakeCheckStore{}, &fakeScanStore{}, &fakeOutputLookup{})

	status, err := resolver.Resolve(context.Background(), "gl_missing")
	require.NoError(t, err)
	assert.Equal(t, models.CheckNotStarted, status)
}

func TestResolve_FewerScansThanExpected(t *testing.T) {
	resolver := newResolver(t,
		&fakeCheckStore{check: testCheck()},
		&fakeScanStore{scans: []*models.Scan{
			scanRow("gitleaks", models.ScanDone, map[string]any{"dd": 1}),
		}},
		&fakeOutputLookup{},
	)

	status, err := resolver.Resolve(context.Background(), "gl_abc")
	require.NoError(t, err)
	assert.Equal(t, models.CheckInProgress, status)
}

func TestResolve_MoreScansThanExpected(t *testing.T) {
	resolver := newResolver(t,
		&fakeCheckStore{check: testCheck()},
		&fakeScanStore{scans: []*models.Scan{
			scanRow("gitleaks", models.ScanDone, nil),
			scanRow("semgrep", models.ScanDone, nil),
			scanRow("stray", models.ScanDone, nil),
		}},
		&fakeOutputLookup{},
	)

	status, err := resolver.Resolve(context.Background(), "gl_abc")
	require.NoError(t, err)
	assert.Equal(t, models.CheckError, status)
}

func TestResolve_ErrorScanWins(t *testing.T) {
	resolver := newResolver(t,
		&fakeCheckStore{check: testCheck()},
		&fakeScanStore{scans: []*models.Scan{
			scanRow("gitleaks", models.ScanError, nil),
			scanRow("semgrep", models.ScanInProgress, nil),
		}},
		&fakeOutputLookup{},
	)

	status, err := resolver.Resolve(context.Background(), "gl_abc")
	require.NoError(t, err)
	assert.Equal(t, models.CheckError, status)
}

func TestResolve_InProgressScan(t *testing.T) {
	resolver := newResolver(t,
		&fakeCheckStore{check: testCheck()},
		&fakeScanStore{scans: []*models.Scan{
			scanRow("gitleaks", models.ScanDone, map[string]any{"dd": 1}),
			scanRow("semgrep", models.ScanInProgress, nil),
		}},
		&fakeOutputLookup{},
	)

	status, err := resolver.Resolve(context.Background(), "gl_abc")
	require.NoError(t, err)
	assert.Equal(t, models.CheckInProgress, status)
}

func TestResolve_NewScanIsError(t *testing.T) {
	resolver := newResolver(t,
		&fakeCheckStore{check: testCheck()},
		&fakeScanStore{scans: []*models.Scan{
			scanRow("gitleaks", models.ScanNew, nil),
			scanRow("semgrep", models.ScanNew, nil),
		}},
		&fakeOutputLookup{},
	)

	status, err := resolver.Resolve(context.Background(), "gl_abc")
	require.NoError(t, err)
	assert.Equal(t, models.CheckError, status)
}

func TestResolve_SkippedScanNotBlocking(t *testing.T) {
	handler := &fakeOutputHandler{valid: true}
	resolver := newResolver(t,
		&fakeCheckStore{check: testCheck()},
		&fakeScanStore{scans: []*models.Scan{
			scanRow("gitleaks", models.ScanDone, map[string]any{"dd": 1}),
			scanRow("semgrep", models.ScanSkip, nil),
		}},
		&fakeOutputLookup{handlers: map[string]*fakeOutputHandler{"defectdojo": handler}},
	)

	status, err := resolver.Resolve(context.Background(), "gl_abc")
	require.NoError(t, err)
	assert.Equal(t, models.CheckSuccess, status)

	// Only the scanner that ran is eligible for validation.
	require.Equal(t, 1, handler.calls)
	require.Len(t, handler.eligibleScans, 1)
	assert.Equal(t, "gitleaks", handler.eligibleScans[0].Name)
	assert.Equal(t, "deadbeef", handler.commitHash)
}

func TestResolve_ValidatorFailure(t *testing.T) {
	handler := &fakeOutputHandler{valid: false}
	resolver := newResolver(t,
		&fakeCheckStore{check: testCheck()},
		&fakeScanStore{scans: []*models.Scan{
			scanRow("gitleaks", models.ScanDone, map[string]any{"dd": 1}),
			scanRow("semgrep", models.ScanDone, map[string]any{"dd": 2}),
		}},
		&fakeOutputLookup{handlers: map[string]*fakeOutputHandler{"defectdojo": handler}},
	)

	status, err := resolver.Resolve(context.Background(), "gl_abc")
	require.NoError(t, err)
	assert.Equal(t, models.CheckFail, status)
}

func TestResolve_OutputWithoutTestIDNotEligible(t *testing.T) {
	handler := &fakeOutputHandler{valid: true}
	resolver := newResolver(t,
		&fakeCheckStore{check: testCheck()},
		&fakeScanStore{scans: []*models.Scan{
			// DONE rows without any recorded output test id: no output is
			// eligible, so no validator runs and the check passes.
			scanRow("gitleaks", models.ScanDone, nil),
			scanRow("semgrep", models.ScanDone, nil),
		}},
		&fakeOutputLookup{handlers: map[string]*fakeOutputHandler{"defectdojo": handler}},
	)

	status, err := resolver.Resolve(context.Background(), "gl_abc")
	require.NoError(t, err)
	assert.Equal(t, models.CheckSuccess, status)
	assert.Equal(t, 0, handler.calls)
}
