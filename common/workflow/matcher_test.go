package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secbot-io/secbot/common/secerr"
)

func singleJobConfig(t *testing.T, rules string) *Config {
	t.Helper()
	cfg, err := Parse([]byte(`
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
jobs:
  - name: j
    rules:
      gitlab:
` + rules + `
    scans: [gitleaks]
`))
	require.NoError(t, err)
	return cfg
}

func TestMatchingJob_FullMatchRequired(t *testing.T) {
	cfg := singleJobConfig(t, `        event_type: "merge"`)

	// "merge" only partially matches "merge_request"; partial matches do
	// not select a job.
	job, err := cfg.MatchingJob("gitlab", []byte(`{"event_type": "merge_request"}`))
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = cfg.MatchingJob("gitlab", []byte(`{"event_type": "merge"}`))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j", job.Name)
}

func TestMatchingJob_NestedPath(t *testing.T) {
	cfg := singleJobConfig(t, `        object_attributes.state: "opened|reopened"`)

	job, err := cfg.MatchingJob("gitlab", []byte(`{"object_attributes": {"state": "opened"}}`))
	require.NoError(t, err)
	require.NotNil(t, job)

	job, err = cfg.MatchingJob("gitlab", []byte(`{"object_attributes": {"state": "closed"}}`))
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMatchingJob_MissingPathDoesNotMatch(t *testing.T) {
	cfg := singleJobConfig(t, `        event_type: ".*"`)

	job, err := cfg.MatchingJob("gitlab", []byte(`{"other": 1}`))
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMatchingJob_AllRulesMustMatch(t *testing.T) {
	cfg := singleJobConfig(t, `        event_type: "merge_request"
        object_kind: "merge_request"`)

	job, err := cfg.MatchingJob("gitlab", []byte(`{"event_type": "merge_request", "object_kind": "push"}`))
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = cfg.MatchingJob("gitlab", []byte(`{"event_type": "merge_request", "object_kind": "merge_request"}`))
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestMatchingJob_MultipleMatchesIsConfigError(t *testing.T) {
	cfg, err := Parse([]byte(`
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
jobs:
  - name: a
    rules:
      gitlab:
        event_type: "merge_request"
    scans: [gitleaks]
  - name: b
    rules:
      gitlab:
        event_type: "merge_.*"
    scans: [gitleaks]
`))
	require.NoError(t, err)

	_, err = cfg.MatchingJob("gitlab", []byte(`{"event_type": "merge_request"}`))
	require.Error(t, err)
	assert.True(t, secerr.Is(err, secerr.KindConfig))
	assert.Contains(t, err.Error(), "multiple jobs")
}

func TestMatchingJob_UnknownInput(t *testing.T) {
	cfg := singleJobConfig(t, `        event_type: "push"`)

	job, err := cfg.MatchingJob("github", []byte(`{"event_type": "push"}`))
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMatchingJob_Condition(t *testing.T) {
	cfg, err := Parse([]byte(`
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
jobs:
  - name: j
    rules:
      gitlab:
        event_type: "merge_request"
    condition: 'event.object_attributes.target_branch == "main"'
    scans: [gitleaks]
`))
	require.NoError(t, err)

	payload := []byte(`{"event_type": "merge_request", "object_attributes": {"target_branch": "main"}}`)
	job, err := cfg.MatchingJob("gitlab", payload)
	require.NoError(t, err)
	require.NotNil(t, job)

	payload = []byte(`{"event_type": "merge_request", "object_attributes": {"target_branch": "dev"}}`)
	job, err = cfg.MatchingJob("gitlab", payload)
	require.NoError(t, err)
	assert.Nil(t, job)
}
