package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/history"
	"github.com/wesleyorama2/surge/internal/output"
)

func newHistoryCmd(historyPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show and delete recorded runs",
	}

	open := func() (*history.Store, error) {
		env, err := environment(*historyPath)
		if err != nil {
			return nil, err
		}
		return history.Open(env.HistoryPath)
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded.")
				return nil
			}

			scheme := output.SchemeFor(w)
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tSIMULATION\tUSERS\tFAILED\tDURATION\tRESULT")
			for _, s := range runs {
				result := scheme.Success.Sprint("PASSED")
				if !s.Passed() {
					result = scheme.Error.Sprint("FAILED")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					shortID(s.ID), s.StartTime.Local().Format("2006-01-02 15:04:05"), s.Simulation,
					s.Dispatched, s.Failed+s.Cancelled, output.FormatDuration(s.Duration), result)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 = all)")

	var format string
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recorded run; the id may be any unique prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.Get(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return output.WriteSummary(w, summary, f, output.SchemeFor(w))
		},
	}
	show.Flags().StringVarP(&format, "output", "o", "text", "Output format: text, json or yaml")

	remove := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a recorded run",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, remove)
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
