package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/opensandbox/poolmgr/pkg/types"
)

var scaleOutCmd = &cobra.Command{
	Use:   "scale-out <blocks>",
	Short: "Start blocks of units, each of the configured granularity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScale(cmd.Context(), args[0], "started", poolOps.ScaleOut)
	},
}

var scaleInCmd = &cobra.Command{
	Use:   "scale-in <blocks>",
	Short: "Stop blocks of units, most recently started first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScale(cmd.Context(), args[0], "stopped", poolOps.ScaleIn)
	},
}

func runScale(ctx context.Context, arg, verb string, op func(poolOps, context.Context, int) (types.ScaleResponse, error)) error {
	blocks, err := strconv.Atoi(arg)
	if err != nil || blocks <= 0 {
		return fmt.Errorf("blocks must be a positive integer, got %q", arg)
	}

	p, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer p.Close()
	resp, err := op(p, ctx, blocks)
	if err != nil {
		return fmt.Errorf("failed to scale: %w", err)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	if resp.Units == 0 && verb == "started" {
		fmt.Println("No units started (pool at capacity)")
	} else {
		fmt.Printf("%s %d units, blocksize now %d\n", verb, resp.Units, resp.Blocksize)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(scaleOutCmd)
	rootCmd.AddCommand(scaleInCmd)
}
