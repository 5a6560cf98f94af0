package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secbot-io/secbot/common/secerr"
)

const validConfig = `
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
    config:
      format: json
  dd:
    handler_name: defectdojo
  slack:
    handler_name: slack
    config:
      render_limit: 10
      channels: ["#security"]
jobs:
  - name: merge_requests
    rules:
      gitlab:
        event_type: "merge_request"
    scans: [gitleaks]
    outputs: [dd]
    notifications: [slack]
  - name: pushes
    rules:
      gitlab:
        event_name: "push"
    scans: [gitleaks]
    outputs: [dd]
    notifications: [slack]
`

func TestParse_ValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	jobs := cfg.JobsForInput("gitlab")
	require.Len(t, jobs, 2)

	job := jobs[0]
	assert.Equal(t, "merge_requests", job.Name)
	assert.Equal(t, "gitlab", job.InputName)
	require.Len(t, job.Scans, 1)
	assert.Equal(t, "gitleaks", job.Scans[0].Name)
	assert.Equal(t, "gitleaks", job.Scans[0].HandlerName)
	assert.Equal(t, "json", job.Scans[0].Config["format"])
	require.Len(t, job.Outputs, 1)
	assert.Equal(t, "defectdojo", job.Outputs[0].HandlerName)
	require.Len(t, job.Notifications, 1)
}

func TestParse_MissingVersion(t *testing.T) {
	_, err := Parse([]byte(`
components:
  c:
    handler_name: h
jobs:
  - name: j
    rules: {gitlab: {}}
    scans: [c]
`))
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindConfig))
}

func TestParse_UnsupportedVersion(t *testing.T) {
	_, err := Parse([]byte(`
version: "2.0"
components:
  c:
    handler_name: h
jobs: []
`))
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindConfig))
	assert.Contains(t, err.Error(), "unsupported config version")
}

func TestParse_EmptyComponents(t *testing.T) {
	_, err := Parse([]byte(`
version: "1.0"
components: {}
jobs: []
`))
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindConfig))
}

func TestParse_EmptyJobs(t *testing.T) {
	_, err := Parse([]byte(`
version: "1.0"
components:
  c:
    handler_name: h
jobs: []
`))
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindConfig))
}

func TestParse_UnknownComponentReference(t *testing.T) {
	_, err := Parse([]byte(`
version: "1.0"
components:
  c:
    handler_name: h
jobs:
  - name: j
    rules: {gitlab: {}}
    scans: [missing]
`))
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindConfig))
}

func TestParse_ResolvesEnv(t *testing.T) {
	t.Setenv("SECBOT_TEST_TOKEN", "s3cret")

	cfg, err := Parse([]byte(`
version: "1.0"
components:
  c:
    handler_name: h
    env:
      token: SECBOT_TEST_TOKEN
jobs:
  - name: j
    rules: {gitlab: {}}
    scans: [c]
`))
	require.NoError(t, err)

	jobs := cfg.JobsForInput("gitlab")
	require.Len(t, jobs, 1)
	assert.Equal(t, "s3cret", jobs[0].Scans[0].Env["token"])
}

func TestParse_MissingEnv(t *testing.T) {
	_, err := Parse([]byte(`
version: "1.0"
components:
  c:
    handler_name: h
    env:
      token: SECBOT_TEST_TOKEN_THAT_DOES_NOT_EXIST
jobs:
  - name: j
    rules: {gitlab: {}}
    scans: [c]
`))
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindConfigMissingEnv))
}
