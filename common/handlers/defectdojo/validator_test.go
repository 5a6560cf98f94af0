package defectdojo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secbot-io/secbot/common/clients"
	"github.com/secbot-io/secbot/common/workflow"
)

type fakeFindingsClient struct {
	page  *clients.FindingsPage
	query clients.FindingsQuery
}

func (f *fakeFindingsClient) ListFindings(_ context.Context, q clients.FindingsQuery) (*clients.FindingsPage, error) {
	f.query = q
	return f.page, nil
}

func gitleaksScan() []workflow.Component {
	return []workflow.Component{{Name: "gitleaks", HandlerName: "gitleaks"}}
}

func gitleaksFinding(id int64, active bool, duplicateOf *int64) clients.Finding {
	return clients.Finding{
		ID:               id,
		Title:            "leak",
		Severity:         "High",
		Active:           active,
		DuplicateFinding: duplicateOf,
		RelatedFields: &clients.RelatedFields{
			Test: clients.RelatedTest{
				TestType: clients.TestType{Name: "Gitleaks Scan"},
			},
		},
	}
}

func TestIsValid_NoFindings(t *testing.T) {
	client := &fakeFindingsClient{page: &clients.FindingsPage{}}
	validator := NewFindingsValidator(client, gitleaksScan(), "deadbeef")

	valid, err := validator.IsValid(context.Background())
	require.NoError(t, err)
	assert.True(t, valid)

	// Findings are scoped by the commit-hash test tag.
	assert.Equal(t, []string{"deadbeef"}, client.query.TestTags)
	assert.True(t, client.query.RelatedFields)
	assert.Equal(t, []string{"duplicate_finding"}, client.query.Prefetch)
}

func TestIsValid_ActiveFindingFails(t *testing.T) {
	client := &fakeFindingsClient{page: &clients.FindingsPage{
		Results: []clients.Finding{gitleaksFinding(1, true, nil)},
	}}
	validator := NewFindingsValidator(client, gitleaksScan(), "deadbeef")

	valid, err := validator.IsValid(context.Background())
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestIsValid_InactiveFindingPasses(t *testing.T) {
	client := &fakeFindingsClient{page: &clients.FindingsPage{
		Results: []clients.Finding{gitleaksFinding(1, false, nil)},
	}}
	validator := NewFindingsValidator(client, gitleaksScan(), "deadbeef")

	valid, err := validator.IsValid(context.Background())
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestIsValid_DuplicateLinkOverridesActive(t *testing.T) {
	duplicateOf := int64(9)
	page := &clients.FindingsPage{
		Results: []clients.Finding{gitleaksFinding(1, true, &duplicateOf)},
	}
	page.Prefetch.DuplicateFinding = map[string]clients.DuplicateFinding{
		// The original was resolved; its duplicate is not active either.
		"9": {Active: false, Severity: "High"},
	}
	client := &fakeFindingsClient{page: page}
	validator := NewFindingsValidator(client, gitleaksScan(), "deadbeef")

	valid, err := validator.IsValid(context.Background())
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestIsValid_ActiveDuplicateFails(t *testing.T) {
	duplicateOf := int64(9)
	page := &clients.FindingsPage{
		Results: []clients.Finding{gitleaksFinding(1, false, &duplicateOf)},
	}
	page.Prefetch.DuplicateFinding = map[string]clients.DuplicateFinding{
		"9": {Active: true, Severity: "High"},
	}
	client := &fakeFindingsClient{page: page}
	validator := NewFindingsValidator(client, gitleaksScan(), "deadbeef")

	valid, err := validator.IsValid(context.Background())
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestIsValid_IneligibleScannerSkipsValidation(t *testing.T) {
	client := &fakeFindingsClient{page: &clients.FindingsPage{
		Results: []clients.Finding{gitleaksFinding(1, true, nil)},
	}}
	// gitleaks did not run for this check, so its findings are not judged.
	validator := NewFindingsValidator(client, []workflow.Component{
		{Name: "semgrep", HandlerName: "semgrep"},
	}, "deadbeef")

	valid, err := validator.IsValid(context.Background())
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestIsValid_MissingPrefetchIsError(t *testing.T) {
	duplicateOf := int64(9)
	client := &fakeFindingsClient{page: &clients.FindingsPage{
		Results: []clients.Finding{gitleaksFinding(1, true, &duplicateOf)},
	}}
	validator := NewFindingsValidator(client, gitleaksScan(), "deadbeef")

	_, err := validator.IsValid(context.Background())
	require.Error(t, err)
}
