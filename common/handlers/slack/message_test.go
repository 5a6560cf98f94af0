package slack

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secbot-io/secbot/common/models"
)

func outputWithFindings(findings ...models.OutputFinding) *models.OutputResult {
	return &models.OutputResult{
		HandlerName:   "defectdojo",
		ComponentName: "dd",
		ScanResult: models.ScanResult{
			ScanID:        1,
			ComponentName: "gitleaks",
		},
		Response: models.OutputResponse{
			ProjectName: "host:g/p",
			ProjectURL:  "https://host/g/p",
			Findings:    findings,
		},
	}
}

func TestGenerateMessageBlocks_NoFindings(t *testing.T) {
	blocks := GenerateMessageBlocks(outputWithFindings(), 10)
	assert.Nil(t, blocks)
}

func TestGenerateMessageBlocks_Header(t *testing.T) {
	blocks := GenerateMessageBlocks(outputWithFindings(
		models.OutputFinding{Title: "AWS key", Severity: models.SeverityHigh, URL: "https://dd/finding/1"},
	), 10)

	require.Len(t, blocks, 2)
	assert.Equal(t, "section", blocks[0].Type)
	assert.Equal(t,
		"Worker *gitleaks* found *1* new findings in *<https://host/g/p|host:g/p>*:",
		blocks[0].Text.Text)
	assert.Equal(t, ":large_orange_circle: <https://dd/finding/1|AWS key>", blocks[1].Text.Text)
}

func TestGenerateMessageBlocks_SortsBySeverity(t *testing.T) {
	blocks := GenerateMessageBlocks(outputWithFindings(
		models.OutputFinding{Title: "low", Severity: models.SeverityLow, URL: "https://dd/finding/1"},
		models.OutputFinding{Title: "crit", Severity: models.SeverityCritical, URL: "https://dd/finding/2"},
		models.OutputFinding{Title: "med", Severity: models.SeverityMedium, URL: "https://dd/finding/3"},
	), 10)

	require.Len(t, blocks, 4)
	assert.Contains(t, blocks[1].Text.Text, "crit")
	assert.Contains(t, blocks[2].Text.Text, "med")
	assert.Contains(t, blocks[3].Text.Text, "low")
	assert.Contains(t, blocks[1].Text.Text, ":red_circle:")
}

func TestGenerateMessageBlocks_RenderLimit(t *testing.T) {
	var findings []models.OutputFinding
	for i := 0; i < 5; i++ {
		findings = append(findings, models.OutputFinding{
			Title:    fmt.Sprintf("finding-%d", i),
			Severity: models.SeverityHigh,
			URL:      fmt.Sprintf("https://dd/finding/%d", i),
		})
	}

	blocks := GenerateMessageBlocks(outputWithFindings(findings...), 2)

	// Header + 2 findings + stripped trailer.
	require.Len(t, blocks, 4)
	assert.Equal(t, ":no_bell: *3* were *stripped* from notification :no_bell:", blocks[3].Text.Text)
}

func TestGenerateMessageBlocks_UnknownSeverityEmoji(t *testing.T) {
	blocks := GenerateMessageBlocks(outputWithFindings(
		models.OutputFinding{Title: "odd", Severity: "Unranked", URL: "https://dd/finding/1"},
	), 10)

	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[1].Text.Text, ":large_purple_circle:")
}
