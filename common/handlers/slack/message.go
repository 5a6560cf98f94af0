package slack

import (
	"fmt"
	"sort"

	"github.com/secbot-io/secbot/common/models"
)

// severityEmoji decorates findings by severity in the message.
var severityEmoji = map[models.Severity]string{
	models.SeverityInfo:     ":white_circle:",
	models.SeverityLow:      ":large_green_circle:",
	models.SeverityMedium:   ":large_yellow_circle:",
	models.SeverityHigh:     ":large_orange_circle:",
	models.SeverityCritical: ":red_circle:",
}

const unknownSeverityEmoji = ":large_purple_circle:"

// Block is one block-kit section
type Block struct {
	Type string `json:"type"`
	Text *Text  `json:"text,omitempty"`
}

// Text is a block-kit text object
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// GenerateMessageBlocks renders an output result into block-kit sections:
// a header with the finding count, the findings sorted by severity up to
// the render limit, and a trailer when findings were stripped. Returns nil
// when there is nothing to report.
func GenerateMessageBlocks(output *models.OutputResult, renderLimit int) []Block {
	total := len(output.Response.Findings)
	if total == 0 {
		return nil
	}

	var blocks []Block
	addSection := func(msg string) {
		blocks = append(blocks, Block{
			Type: "section",
			Text: &Text{Type: "mrkdwn", Text: msg},
		})
	}

	addSection(fmt.Sprintf(
		"Worker *%s* found *%d* new findings in *<%s|%s>*:",
		output.ScanResult.ComponentName,
		total,
		output.Response.ProjectURL,
		output.Response.ProjectName,
	))

	limit := renderLimit
	if limit > total {
		limit = total
	}
	findings := make([]models.OutputFinding, limit)
	copy(findings, output.Response.Findings[:limit])
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Priority() < findings[j].Severity.Priority()
	})

	for _, finding := range findings {
		emoji, ok := severityEmoji[finding.Severity]
		if !ok {
			emoji = unknownSeverityEmoji
		}
		addSection(fmt.Sprintf("%s <%s|%s>", emoji, finding.URL, finding.Title))
	}

	if total > renderLimit {
		addSection(fmt.Sprintf(
			":no_bell: *%d* were *stripped* from notification :no_bell:",
			total-renderLimit,
		))
	}

	return blocks
}
