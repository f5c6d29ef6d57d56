package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/conversation"
	"github.com/dusk-indust/loanflow/internal/decision"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/service"
	"github.com/dusk-indust/loanflow/internal/session"
)

type chatStyles struct {
	agent   lipgloss.Style
	prompt  lipgloss.Style
	hint    lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	heading lipgloss.Style
	label   lipgloss.Style
}

func newChatStyles(r *lipgloss.Renderer) chatStyles {
	return chatStyles{
		agent:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		prompt:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		hint:    r.NewStyle().Foreground(lipgloss.Color("241")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		bad:     r.NewStyle().Foreground(lipgloss.Color("196")),
		heading: r.NewStyle().Bold(true).Underline(true),
		label:   r.NewStyle().Width(18),
	}
}

func newChatCmd(a *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Run an intake conversation in the terminal",
		Long: `Talk to the intake assistant on stdin. Once every field is collected the
application is assessed in-process and the decision is printed.

Commands: /status, /reset, /quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store := session.NewMemStore()
			defer store.Close()
			svc, err := a.openService(store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			c := &chat{
				svc: svc,
				out: out,
				st:  newChatStyles(lipgloss.NewRenderer(out)),
			}
			return c.run(ctx, cmd.InOrStdin())
		},
	}
}

// chat is one terminal conversation bound to a single session.
type chat struct {
	svc *service.Service
	out io.Writer
	st  chatStyles
	id  string
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	turn, err := c.svc.StartSession(ctx)
	if err != nil {
		return err
	}
	c.id = turn.Session.ID
	c.printTurn(turn)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, c.st.prompt.Render("you>")+" ")
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/status":
			sess, err := c.svc.Get(ctx, c.id)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s (%d%% complete)\n%s", sess.State,
				conversation.Completion(sess.State), sess.Data.Render())
			continue
		case "/reset":
			if turn, err = c.svc.Reset(ctx, c.id); err != nil {
				return err
			}
			c.printTurn(turn)
			continue
		}

		if turn, err = c.svc.SendMessage(ctx, c.id, line); err != nil {
			return err
		}
		c.printTurn(turn)
		if turn.Response.Action == conversation.ActionReadyForProcessing && !turn.Session.Processed {
			if err := c.assess(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *chat) printTurn(turn service.Turn) {
	r := turn.Response
	fmt.Fprintf(c.out, "%s %s\n", c.st.agent.Render(r.AgentName+":"), r.Message)
	if len(r.QuickReplies) > 0 {
		labels := make([]string, len(r.QuickReplies))
		for i, q := range r.QuickReplies {
			labels[i] = q.Label
		}
		fmt.Fprintln(c.out, c.st.hint.Render("  try: "+strings.Join(labels, " | ")))
	}
}

func (c *chat) assess(ctx context.Context) error {
	updates, err := c.svc.Process(ctx, c.id)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, c.st.heading.Render("Assessment"))
	var final *decision.Decision
	for u := range updates {
		line := orchestrator.FormatUpdate(u)
		switch u.Status {
		case orchestrator.UpdateCompleted:
			line = c.st.ok.Render(line)
		case orchestrator.UpdateError:
			line = c.st.bad.Render(line)
		}
		fmt.Fprintln(c.out, line)
		if u.AssessmentData != nil && u.AssessmentData.Decision != nil {
			final = u.AssessmentData.Decision
		}
	}
	if final != nil {
		c.printDecision(*final)
	}
	fmt.Fprintln(c.out, c.st.hint.Render("type /reset to start a new application or /quit to leave"))
	return nil
}

func (c *chat) printDecision(d decision.Decision) {
	status := strings.ToUpper(strings.ReplaceAll(d.Status, "_", " "))
	switch d.Recommendation {
	case decision.Approve:
		status = c.st.ok.Render(status)
	case decision.Deny:
		status = c.st.bad.Render(status)
	default:
		status = c.st.warn.Render(status)
	}

	field := func(label, value string) {
		fmt.Fprintf(c.out, "  %s%s\n", c.st.label.Render(label), value)
	}
	fmt.Fprintf(c.out, "\n%s %s\n", c.st.heading.Render("Decision:"), status)
	field("Loan amount", application.Money(d.LoanAmount))
	field("Interest rate", fmt.Sprintf("%.2f%% over %d months", d.InterestRate, d.Term))
	field("Monthly payment", application.Money(d.MonthlyPayment))
	if d.Reasoning != "" {
		field("Reasoning", d.Reasoning)
	}
	if len(d.Conditions) > 0 {
		fmt.Fprintf(c.out, "  Conditions\n")
		for _, cond := range d.Conditions {
			fmt.Fprintf(c.out, "    - %s\n", cond)
		}
	}
	if len(d.NextSteps) > 0 {
		fmt.Fprintf(c.out, "  Next steps\n")
		for i, step := range d.NextSteps {
			fmt.Fprintf(c.out, "    %d. %s\n", i+1, step)
		}
	}
	fmt.Fprintln(c.out)
}
