package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	simconfig "github.com/wesleyorama2/surge/internal/load/config"
	"github.com/wesleyorama2/surge/internal/output"
)

func newValidateCmd() *cobra.Command {
	var vars []string

	cmd := &cobra.Command{
		Use:   "validate <simulation-file>",
		Short: "Check a simulation file without running it",
		Long: `Parse and validate a simulation file, then print the populations it defines.
Every problem is reported with its field path, for example
populations[0].injection[1].rampUsers.during.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := simconfig.LoadFile(args[0])
			if err != nil {
				return err
			}
			overrides, err := parseVars(vars)
			if err != nil {
				return err
			}
			sim, err := file.Build(overrides)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			w := cmd.OutOrStdout()
			scheme := output.SchemeFor(w)
			fmt.Fprintf(w, "%s %s (%d populations)\n", output.SuccessIcon(scheme.NoColor), sim.Name, len(sim.Populations))
			for _, pop := range sim.Populations {
				fmt.Fprintf(w, "  %s: %d steps (%d requests), %d users over %s\n",
					pop.Scenario.Name(), pop.Scenario.Len(), pop.Scenario.Requests(), pop.Profile.TotalUsers(), pop.Profile.Duration())
				fmt.Fprintf(w, "    %s\n", pop.Profile)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Set a simulation variable (key=value, repeatable)")
	return cmd
}
