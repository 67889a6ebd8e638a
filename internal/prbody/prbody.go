// Package prbody composes the pull-request description the Ship phase
// attaches to a workflow's branch: a per-phase outcome table, diff
// statistics, and a short natural-language summary, taken from Data.Summary
// when the caller supplies one and otherwise built from phase names.
package prbody

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/charmbracelet/log"

	"github.com/forgeflow/forge/internal/executor"
)

//go:embed template.tmpl
var defaultTemplate string

// maxBodyBytes is GitHub's hard limit on a pull request body.
const maxBodyBytes = 65536

// DiffStats summarizes the diff a workflow's branch carries against its
// base branch.
type DiffStats struct {
	TotalFiles        int
	FilesAdded        int
	FilesModified     int
	FilesDeleted      int
	TotalLinesAdded   int
	TotalLinesDeleted int
}

// Data is the complete input to Generate.
type Data struct {
	WorkflowID   string
	TemplateName string
	BranchName   string
	BaseBranch   string
	Summary      string // pre-written summary; Generate falls back when empty
	Phases       []PhaseOutcome
	DiffStats    DiffStats
}

// PhaseOutcome is one row of the phase table: the name the phase ran under
// and its PhaseResult as recorded by the Executor.
type PhaseOutcome struct {
	Name   string
	Result *executor.PhaseResult
}

// Generator renders Data into a GitHub-flavored markdown PR body.
type Generator struct {
	logger *log.Logger
	tmpl   *template.Template
}

// New returns a Generator using the package's embedded template.
func New(logger *log.Logger) *Generator {
	tmpl := template.Must(
		template.New("prbody").
			Delims("[[", "]]").
			Parse(defaultTemplate),
	)
	return &Generator{logger: logger, tmpl: tmpl}
}

// Generate renders data to markdown, truncating to maxBodyBytes if the
// rendered body would exceed GitHub's hard limit.
func (g *Generator) Generate(data Data) (string, error) {
	if data.Summary == "" {
		data.Summary = fallbackSummary(data.Phases)
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, renderData(data)); err != nil {
		return "", fmt.Errorf("prbody: executing template: %w", err)
	}

	body := buf.String()
	if len(body) > maxBodyBytes {
		const notice = "\n\n---\n*PR body truncated to fit GitHub's 65,536 character limit.*\n"
		cutoff := maxBodyBytes - len(notice)
		if cutoff < 0 {
			cutoff = 0
		}
		body = body[:cutoff] + notice
	}

	if g.logger != nil {
		g.logger.Info("prbody: generated", "workflow_id", data.WorkflowID, "bytes", len(body), "phases", len(data.Phases))
	}
	return body, nil
}

// Title produces a one-line PR title from the template name and branch.
func Title(data Data) string {
	if data.TemplateName == "" {
		return data.BranchName
	}
	return fmt.Sprintf("%s: %s", strings.ToUpper(data.TemplateName[:1])+data.TemplateName[1:], data.BranchName)
}

// renderRow is the per-phase data handed to the template, with fields
// pre-formatted since text/template has no arithmetic or formatting verbs.
type renderRow struct {
	Name           string
	StatusLabel    string
	DurationLabel  string
	TokensLabel    string
	CostLabel      string
}

type renderPayload struct {
	Data
	Phases         []renderRow
	TotalCostLabel string
}

func renderData(data Data) renderPayload {
	rows := make([]renderRow, 0, len(data.Phases))
	var totalCost float64
	var haveCost bool

	for _, p := range data.Phases {
		row := renderRow{Name: p.Name, StatusLabel: "unknown"}
		if p.Result != nil {
			if p.Result.Success {
				row.StatusLabel = "passed"
			} else {
				row.StatusLabel = "failed"
			}
			row.DurationLabel = fmt.Sprintf("%.1fs", p.Result.DurationSeconds)
			if p.Result.TokensUsed != nil {
				row.TokensLabel = fmt.Sprintf("%d", *p.Result.TokensUsed)
			} else {
				row.TokensLabel = "-"
			}
			if p.Result.CostUSD != nil {
				row.CostLabel = fmt.Sprintf("$%.4f", *p.Result.CostUSD)
				totalCost += *p.Result.CostUSD
				haveCost = true
			} else {
				row.CostLabel = "-"
			}
		} else {
			row.DurationLabel = "-"
			row.TokensLabel = "-"
			row.CostLabel = "-"
		}
		rows = append(rows, row)
	}

	payload := renderPayload{Data: data, Phases: rows}
	if haveCost {
		payload.TotalCostLabel = fmt.Sprintf("$%.4f", totalCost)
	}
	return payload
}

// fallbackSummary builds a structured summary from phase names when no
// AI-generated summary is available.
func fallbackSummary(phases []PhaseOutcome) string {
	if len(phases) == 0 {
		return "This PR contains no recorded phase results."
	}
	names := make([]string, 0, len(phases))
	failed := 0
	for _, p := range phases {
		names = append(names, p.Name)
		if p.Result != nil && !p.Result.Success {
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprintf("Ran phases %s; all completed successfully.", strings.Join(names, ", "))
	}
	return fmt.Sprintf("Ran phases %s; %d phase(s) reported failure.", strings.Join(names, ", "), failed)
}
