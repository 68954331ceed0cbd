package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <command...>",
	Short: "Submit a batch job running command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blocksize, _ := cmd.Flags().GetFloat64("blocksize")
		label, _ := cmd.Flags().GetString("label")
		if blocksize <= 0 {
			return fmt.Errorf("--blocksize must be positive")
		}

		ctx := cmd.Context()
		p, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		id, err := p.Submit(ctx, strings.Join(args, " "), blocksize, label)
		if err != nil {
			return fmt.Errorf("failed to submit: %w", err)
		}

		if jsonOutput {
			data, _ := json.MarshalIndent(map[string]string{"id": id}, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		if id == "" {
			fmt.Println("Job not submitted (pool at capacity or rejected by the scheduler)")
			return nil
		}
		fmt.Println(id)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>...",
	Short: "Cancel units",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		flags, err := p.Cancel(ctx, args)
		if err != nil {
			return fmt.Errorf("failed to cancel: %w", err)
		}

		if jsonOutput {
			data, _ := json.MarshalIndent(flags, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCANCELLED")
		for i, id := range args {
			fmt.Fprintf(w, "%s\t%t\n", id, flags[i])
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>...",
	Short: "Show the canonical status of units",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		statuses, err := p.Status(ctx, args)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		if jsonOutput {
			data, _ := json.MarshalIndent(statuses, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS")
		for i, id := range args {
			fmt.Fprintf(w, "%s\t%s\n", id, statuses[i])
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)

	submitCmd.Flags().Float64("blocksize", 1, "Tasks the job provides")
	submitCmd.Flags().String("label", "", "Label used in the job name")
}
