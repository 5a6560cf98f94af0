package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secbot-io/secbot/common/broker"
	"github.com/secbot-io/secbot/common/gitlab"
	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/secerr"
)

type scriptedScanHandler struct {
	result *models.ScanResult
	err    error
}

func (h *scriptedScanHandler) Run(context.Context, registry.Invocation, *models.InputData) (*models.ScanResult, error) {
	return h.result, h.err
}

type recordingNotificationHandler struct {
	received *models.OutputResult
}

func (h *recordingNotificationHandler) Run(_ context.Context, _ registry.Invocation, output *models.OutputResult) error {
	h.received = output
	return nil
}

func newTestExecutor(t *testing.T, inputName string) *Executor {
	t.Helper()
	input, err := registry.BuildInput(inputName, registry.Deps{})
	require.NoError(t, err)

	engine := NewEngine(nil, logger.New("error", "json"), nil)
	return NewExecutor(engine, input, registry.Deps{})
}

func inputArgs(t *testing.T) json.RawMessage {
	t.Helper()
	args, err := models.EncodePayload(&models.InputData{
		CheckID: 1,
		Event:   gitlab.EventPush,
		Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return args
}

func TestHandle_RunsScanAndReturnsResult(t *testing.T) {
	handler := &scriptedScanHandler{result: &models.ScanResult{ScanID: 9, HandlerName: "scripted"}}
	registry.Register("exec-success", registry.RoleScan, "scripted", func(registry.Deps) any { return handler })
	executor := newTestExecutor(t, "exec-success")

	result, err := executor.Handle(context.Background(), &broker.Envelope{
		Task: broker.TaskSpec{
			Name:          "handler.scripted",
			HandlerName:   "scripted",
			ComponentName: "scripted",
			Args:          inputArgs(t),
		},
	})
	require.NoError(t, err)

	decoded, err := models.DecodePayload(result)
	require.NoError(t, err)
	restored, ok := decoded.(*models.ScanResult)
	require.True(t, ok)
	assert.Equal(t, int64(9), restored.ScanID)
}

func TestHandle_ScanCantBeScannedHaltsChain(t *testing.T) {
	handler := &scriptedScanHandler{err: secerr.New(secerr.KindScanCantBeScanned, "scan can't be scanned: reason=done")}
	registry.Register("exec-guard", registry.RoleScan, "scripted", func(registry.Deps) any { return handler })
	executor := newTestExecutor(t, "exec-guard")

	_, err := executor.Handle(context.Background(), &broker.Envelope{
		Task: broker.TaskSpec{
			Name:          "handler.scripted",
			HandlerName:   "scripted",
			ComponentName: "scripted",
			Args:          inputArgs(t),
		},
	})
	assert.True(t, errors.Is(err, broker.ErrChainHalted))
}

func TestHandle_PayloadRoleMismatchIsPermanent(t *testing.T) {
	handler := &recordingNotificationHandler{}
	registry.Register("exec-mismatch", registry.RoleNotification, "bell", func(registry.Deps) any { return handler })
	executor := newTestExecutor(t, "exec-mismatch")

	// A notification handler fed input data is a wiring error, not a
	// transient failure.
	_, err := executor.Handle(context.Background(), &broker.Envelope{
		Task: broker.TaskSpec{
			Name:          "handler.bell",
			HandlerName:   "bell",
			ComponentName: "bell",
			Args:          inputArgs(t),
		},
	})
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindInput))
}

func TestHandle_NotificationEndsChain(t *testing.T) {
	handler := &recordingNotificationHandler{}
	registry.Register("exec-notify", registry.RoleNotification, "bell", func(registry.Deps) any { return handler })
	executor := newTestExecutor(t, "exec-notify")

	output := &models.OutputResult{HandlerName: "defectdojo", ComponentName: "dd"}
	args, err := models.EncodePayload(output)
	require.NoError(t, err)

	result, err := executor.Handle(context.Background(), &broker.Envelope{
		Task: broker.TaskSpec{
			Name:          "handler.bell",
			HandlerName:   "bell",
			ComponentName: "bell",
			Args:          args,
		},
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	require.NotNil(t, handler.received)
	assert.Equal(t, "dd", handler.received.ComponentName)
}

func TestHandle_UnknownHandlerIsPermanent(t *testing.T) {
	executor := newTestExecutor(t, "exec-empty")

	_, err := executor.Handle(context.Background(), &broker.Envelope{
		Task: broker.TaskSpec{
			Name:          "handler.ghost",
			HandlerName:   "ghost",
			ComponentName: "ghost",
			Args:          inputArgs(t),
		},
	})
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindInput))
}
