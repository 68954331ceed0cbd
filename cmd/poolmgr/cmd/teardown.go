package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensandbox/poolmgr/internal/pool"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Terminate every unit and destroy the pool's network",
	Long: `Terminate every unit and destroy the pool's network, then delete the saved state.

If a step fails, the saved state keeps whatever is left and the command reports
the step and resource it stopped at. Running teardown again resumes from there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.Teardown(ctx); err != nil {
			var terr *pool.TeardownError
			if errors.As(err, &terr) {
				return fmt.Errorf("teardown stopped at %s (resource %s), run teardown again to resume: %w",
					terr.Step, terr.ResourceID, terr.Err)
			}
			return fmt.Errorf("failed to tear down: %w", err)
		}
		fmt.Println("Pool torn down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(teardownCmd)
}
