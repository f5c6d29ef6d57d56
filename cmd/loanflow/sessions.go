package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dusk-indust/loanflow/internal/conversation"
	"github.com/dusk-indust/loanflow/internal/export"
	"github.com/dusk-indust/loanflow/internal/session"
	"github.com/dusk-indust/loanflow/internal/status"
)

func newSessionsCmd(a *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and prune stored sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(a),
		newSessionsShowCmd(a),
		newSessionsStatusCmd(a),
		newSessionsExportCmd(a),
		newSessionsDeleteCmd(a),
		newSessionsCleanupCmd(a),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func (a *cli) withStore(cmd *cobra.Command, fn func(session.Store) error) error {
	store, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newSessionsListCmd(a *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(store session.Store) error {
				list, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATE\tDONE\tDECISION\tUPDATED")
				for _, s := range list {
					dec := "-"
					if s.Decision != nil {
						dec = s.Decision.Status
					} else if s.Processed {
						dec = "(no decision)"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\n",
						s.ID, s.State, conversation.Completion(s.State), dec, humanize.Time(s.UpdatedAt))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				sum := status.Summarize(list)
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s, %d awaiting assessment", plural(sum.Total, "session"), sum.AwaitingAssessment)
				for _, k := range status.Keys(sum.ByDecision) {
					fmt.Fprintf(cmd.OutOrStdout(), ", %d %s", sum.ByDecision[k], k)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
}

func newSessionsShowCmd(a *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store session.Store) error {
				s, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			})
		},
	}
}

func newSessionsStatusCmd(a *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show which intake steps a session has completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store session.Store) error {
				s, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				st := status.ForSession(s)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s: %s (%d%%)\n", st.ID, st.State, st.Completion)
				for _, step := range st.Steps {
					mark := "○"
					if step.Complete {
						mark = "✓"
					}
					fmt.Fprintf(out, "  %s %d. %s\n", mark, step.Step, step.Name)
				}
				switch {
				case st.Decision != "":
					fmt.Fprintf(out, "Decision: %s\n", st.Decision)
				case st.Processed:
					fmt.Fprintln(out, "Assessment started, no decision recorded")
				case st.NextStep == -1:
					fmt.Fprintln(out, "Ready for assessment")
				default:
					fmt.Fprintf(out, "Next: step %d\n", st.NextStep)
				}
				return nil
			})
		},
	}
}

func newSessionsExportCmd(a *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a session as JSON, Markdown or a Mermaid state diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(store session.Store) error {
				s, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := export.Render(s, f)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "json, markdown or mermaid")
	return cmd
}

func newSessionsDeleteCmd(a *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store session.Store) error {
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionsCleanupCmd(a *cli) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sessions idle for longer than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxAge == 0 {
				maxAge = a.cfg.Session.TTL
			}
			return a.withStore(cmd, func(store session.Store) error {
				n, err := store.Cleanup(cmd.Context(), maxAge)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s idle longer than %s\n",
					plural(n, "session"), maxAge)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "idle age to expire (default session.ttl)")
	return cmd
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}
