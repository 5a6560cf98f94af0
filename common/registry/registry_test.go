package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/secerr"
	"github.com/secbot-io/secbot/common/workflow"
)

type stubScanHandler struct{}

func (stubScanHandler) Run(context.Context, Invocation, *models.InputData) (*models.ScanResult, error) {
	return nil, nil
}

type stubOutputHandler struct{}

func (stubOutputHandler) Run(context.Context, Invocation, *models.ScanResult) (*models.OutputResult, error) {
	return nil, nil
}

func (stubOutputHandler) FetchStatus(context.Context, Invocation, []workflow.Component, string) (bool, error) {
	return true, nil
}

type stubNotificationHandler struct{}

func (stubNotificationHandler) Run(context.Context, Invocation, *models.OutputResult) error {
	return nil
}

func TestBuildInput_GroupsByRole(t *testing.T) {
	Register("test-input", RoleScan, "scanner", func(Deps) any { return stubScanHandler{} })
	Register("test-input", RoleOutput, "sink", func(Deps) any { return stubOutputHandler{} })
	Register("test-input", RoleNotification, "bell", func(Deps) any { return stubNotificationHandler{} })

	input, err := BuildInput("test-input", Deps{})
	require.NoError(t, err)

	scan, err := input.Scan("scanner")
	require.NoError(t, err)
	assert.NotNil(t, scan)

	output, err := input.Output("sink")
	require.NoError(t, err)
	assert.NotNil(t, output)

	notification, err := input.Notification("bell")
	require.NoError(t, err)
	assert.NotNil(t, notification)

	_, err = input.Scan("sink")
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindInput))
}

func TestBuildInput_RoleMismatch(t *testing.T) {
	Register("test-mismatch", RoleOutput, "not-an-output", func(Deps) any { return stubScanHandler{} })

	_, err := BuildInput("test-mismatch", Deps{})
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindInput))
}

func TestBuildInput_UnknownInputIsEmpty(t *testing.T) {
	input, err := BuildInput("never-registered", Deps{})
	require.NoError(t, err)

	_, err = input.Handler("anything")
	require.Error(t, err)
}

func TestRegister_LastRegistrationWins(t *testing.T) {
	Register("test-rereg", RoleScan, "scanner", func(Deps) any { return nil })
	Register("test-rereg", RoleScan, "scanner", func(Deps) any { return stubScanHandler{} })

	input, err := BuildInput("test-rereg", Deps{})
	require.NoError(t, err)

	_, err = input.Scan("scanner")
	require.NoError(t, err)
}

func TestHandlerNames_Sorted(t *testing.T) {
	Register("test-names", RoleScan, "zeta", func(Deps) any { return stubScanHandler{} })
	Register("test-names", RoleScan, "alpha", func(Deps) any { return stubScanHandler{} })

	assert.Equal(t, []string{"alpha", "zeta"}, HandlerNames("test-names"))
}
