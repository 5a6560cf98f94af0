package defectdojo

import (
	"context"
	"fmt"

	"github.com/secbot-io/secbot/common/clients"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/workflow"
)

// scannerByScanType maps DefectDojo scan type names back to handler names.
var scannerByScanType = map[string]string{
	"Gitleaks Scan": "gitleaks",
}

// scannerValidators holds the per-scanner predicates over findings.
var scannerValidators = map[string]func([]ValidatedFinding) bool{
	"gitleaks": isGitleaksValid,
}

// ValidatedFinding is one finding joined with its duplicate link.
type ValidatedFinding struct {
	ScanName  string
	Active    bool
	Severity  models.Severity
	Duplicate *DuplicateLink
}

// DuplicateLink carries the state of the original finding this one
// duplicates.
type DuplicateLink struct {
	Active   bool
	Severity models.Severity
}

// IsActive follows the duplicate link when present: a duplicate of a
// resolved finding is not active regardless of its own flag.
func (f ValidatedFinding) IsActive() bool {
	if f.Duplicate != nil {
		return f.Duplicate.Active
	}
	return f.Active
}

// isGitleaksValid passes iff no gitleaks finding is active.
func isGitleaksValid(findings []ValidatedFinding) bool {
	for _, finding := range findings {
		if finding.IsActive() {
			return false
		}
	}
	return true
}

// FindingsClient is the API surface the validator needs.
type FindingsClient interface {
	ListFindings(ctx context.Context, q clients.FindingsQuery) (*clients.FindingsPage, error)
}

// FindingsValidator judges a commit's findings with the per-scanner
// predicates, restricted to the scanners that actually ran.
type FindingsValidator struct {
	client        FindingsClient
	eligibleScans []workflow.Component
	commitHash    string
}

// NewFindingsValidator creates a validator for one commit
func NewFindingsValidator(client FindingsClient, eligibleScans []workflow.Component, commitHash string) *FindingsValidator {
	return &FindingsValidator{
		client:        client,
		eligibleScans: eligibleScans,
		commitHash:    commitHash,
	}
}

// IsValid fetches the findings tagged with the commit hash and applies
// every applicable scanner predicate.
func (v *FindingsValidator) IsValid(ctx context.Context) (bool, error) {
	findings, err := v.fetchFindings(ctx)
	if err != nil {
		return false, err
	}

	eligible := make(map[string]bool, len(v.eligibleScans))
	for _, scan := range v.eligibleScans {
		eligible[scan.HandlerName] = true
	}

	for scanner, validate := range scannerValidators {
		if !eligible[scanner] {
			continue
		}
		var scannerFindings []ValidatedFinding
		for _, finding := range findings {
			if finding.ScanName == scanner {
				scannerFindings = append(scannerFindings, finding)
			}
		}
		if !validate(scannerFindings) {
			return false, nil
		}
	}
	return true, nil
}

// fetchFindings lists findings by the commit-hash test tag and joins the
// prefetched duplicate links.
func (v *FindingsValidator) fetchFindings(ctx context.Context) ([]ValidatedFinding, error) {
	page, err := v.client.ListFindings(ctx, clients.FindingsQuery{
		// The commit hash is attached as a test tag on upload; filtering
		// by it scopes the listing to this security check.
		TestTags:      []string{v.commitHash},
		RelatedFields: true,
		Prefetch:      []string{"duplicate_finding"},
		Limit:         findingsLimit,
	})
	if err != nil {
		return nil, err
	}

	findings := make([]ValidatedFinding, 0, len(page.Results))
	for _, finding := range page.Results {
		var duplicate *DuplicateLink
		if finding.DuplicateFinding != nil {
			linked, ok := page.Prefetch.DuplicateFinding[fmt.Sprintf("%d", *finding.DuplicateFinding)]
			if !ok {
				return nil, fmt.Errorf("duplicate finding %d missing from prefetch", *finding.DuplicateFinding)
			}
			duplicate = &DuplicateLink{
				Active:   linked.Active,
				Severity: models.Severity(linked.Severity),
			}
		}

		scanName := ""
		if finding.RelatedFields != nil {
			scanName = scannerByScanType[finding.RelatedFields.Test.TestType.Name]
		}

		findings = append(findings, ValidatedFinding{
			ScanName:  scanName,
			Active:    finding.Active,
			Severity:  models.Severity(finding.Severity),
			Duplicate: duplicate,
		})
	}
	return findings, nil
}
