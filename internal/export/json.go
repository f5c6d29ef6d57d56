// Package export renders a session for hand-off: a JSON document, a
// Markdown summary and a Mermaid diagram of the intake flow.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/decision"
	"github.com/dusk-indust/loanflow/internal/session"
	"github.com/dusk-indust/loanflow/internal/status"
)

// Format names an export rendering.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatMermaid  Format = "mermaid"
)

// ParseFormat maps a user-supplied name to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "mermaid":
		return FormatMermaid, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, markdown or mermaid)", s)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatMermaid:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// ApplicationExport is the top-level JSON export structure.
type ApplicationExport struct {
	ID          string             `json:"id"`
	ExportedAt  string             `json:"exportedAt"`
	State       string             `json:"state"`
	Completion  int                `json:"completion"`
	Steps       []StepExport       `json:"steps"`
	Application application.Data   `json:"application"`
	Processed   bool               `json:"processed"`
	Decision    *decision.Decision `json:"decision,omitempty"`
}

// StepExport describes one intake step.
type StepExport struct {
	Step   int    `json:"step"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Build assembles an ApplicationExport from a session snapshot.
func Build(s session.Session) *ApplicationExport {
	st := status.ForSession(s)
	out := &ApplicationExport{
		ID:          s.ID,
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		State:       st.State,
		Completion:  st.Completion,
		Application: s.Data.Clone(),
		Processed:   s.Processed,
		Decision:    s.Decision,
	}
	for _, si := range st.Steps {
		stepStatus := "pending"
		if si.Complete {
			stepStatus = "complete"
		}
		out.Steps = append(out.Steps, StepExport{Step: si.Step, Name: si.Name, Status: stepStatus})
	}
	return out
}

// Render writes the session in format f.
func Render(s session.Session, f Format) ([]byte, error) {
	switch f {
	case FormatMarkdown:
		return []byte(Markdown(Build(s))), nil
	case FormatMermaid:
		return []byte(StateDiagram(s.State)), nil
	default:
		data, err := json.MarshalIndent(Build(s), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("export: marshal %s: %w", s.ID, err)
		}
		return append(data, '\n'), nil
	}
}
