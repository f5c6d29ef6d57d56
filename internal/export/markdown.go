package export

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/dusk-indust/loanflow/internal/application"
)

// Markdown produces a human-readable summary of an exported application.
func Markdown(e *ApplicationExport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Mortgage application %s\n\n", e.ID)
	fmt.Fprintf(&b, "Exported %s. Intake is %d%% complete (%s).\n\n", e.ExportedAt, e.Completion, e.State)

	b.WriteString("## Intake\n\n")
	for _, s := range e.Steps {
		mark := " "
		if s.Status == "complete" {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %d. %s\n", mark, s.Step, s.Name)
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimPrefix(e.Application.Render(), "## Mortgage application\n\n"))
	b.WriteString("\n")

	b.WriteString("## Decision\n\n")
	d := e.Decision
	switch {
	case d != nil:
	case e.Processed:
		b.WriteString("Assessment started but no decision was recorded.\n")
		return b.String()
	default:
		b.WriteString("Not assessed yet.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "**%s**\n\n", strings.ReplaceAll(d.Status, "_", " "))
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Loan amount | %s |\n", application.Money(d.LoanAmount))
	fmt.Fprintf(&b, "| Interest rate | %s%% |\n", humanize.FtoaWithDigits(d.InterestRate, 3))
	fmt.Fprintf(&b, "| Term | %d months |\n", d.Term)
	fmt.Fprintf(&b, "| Monthly payment | %s |\n", application.Money(d.MonthlyPayment))
	if d.Reasoning != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Reasoning)
	}
	if len(d.Conditions) > 0 {
		b.WriteString("\n### Conditions\n\n")
		for _, c := range d.Conditions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(d.NextSteps) > 0 {
		b.WriteString("\n### Next steps\n\n")
		for i, s := range d.NextSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	return b.String()
}
