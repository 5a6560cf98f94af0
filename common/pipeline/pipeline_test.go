package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/workflow"
)

func TestBuildSpecs(t *testing.T) {
	components := []workflow.Component{
		{
			Name:        "gitleaks",
			HandlerName: "gitleaks",
			Config:      map[string]any{"format": "json"},
			Env:         map[string]string{"token": "t"},
		},
		{Name: "dd", HandlerName: "defectdojo"},
	}
	args := json.RawMessage(`{"check_id": 1}`)

	specs := buildSpecs(components, args)
	require.Len(t, specs, 2)

	assert.Equal(t, "handler.gitleaks", specs[0].Name)
	assert.Equal(t, "gitleaks", specs[0].HandlerName)
	assert.Equal(t, "gitleaks", specs[0].ComponentName)
	assert.Equal(t, "json", specs[0].Config["format"])
	assert.Equal(t, "t", specs[0].Env["token"])
	assert.Equal(t, args, specs[0].Args)

	assert.Equal(t, "handler.dd", specs[1].Name)
	assert.Nil(t, specs[1].Config)
}

func TestFailureTarget(t *testing.T) {
	input := &models.InputData{CheckID: 3}
	scanResult := &models.ScanResult{
		ComponentName: "gitleaks",
		Input:         models.InputData{CheckID: 4},
	}
	outputResult := &models.OutputResult{
		ScanResult: models.ScanResult{
			ComponentName: "gitleaks",
			Input:         models.InputData{CheckID: 5},
		},
	}

	inv := registry.Invocation{ComponentName: "gitleaks"}

	checkID, scanName, ok := failureTarget(inv, input)
	require.True(t, ok)
	assert.Equal(t, int64(3), checkID)
	assert.Equal(t, "gitleaks", scanName)

	// A failed output or notification flips the scan that fed it, not a
	// scan named after the failing component.
	checkID, scanName, ok = failureTarget(registry.Invocation{ComponentName: "dd"}, scanResult)
	require.True(t, ok)
	assert.Equal(t, int64(4), checkID)
	assert.Equal(t, "gitleaks", scanName)

	checkID, scanName, ok = failureTarget(registry.Invocation{ComponentName: "slack"}, outputResult)
	require.True(t, ok)
	assert.Equal(t, int64(5), checkID)
	assert.Equal(t, "gitleaks", scanName)

	_, _, ok = failureTarget(inv, "a string")
	assert.False(t, ok)
}
