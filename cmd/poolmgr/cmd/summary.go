package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/poolmgr/pkg/types"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the pool's network and units",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		sum, err := p.Summary(ctx)
		if err != nil {
			return fmt.Errorf("failed to get summary: %w", err)
		}

		if jsonOutput {
			data, _ := json.MarshalIndent(sum, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		return printSummary(os.Stdout, sum)
	},
}

func printSummary(out io.Writer, sum types.PoolSummary) error {
	fmt.Fprintf(out, "Backend:    %s\n", sum.Backend)
	fmt.Fprintf(out, "Blocksize:  %d\n", sum.Blocksize)
	if sum.MaxNodes > 0 {
		fmt.Fprintf(out, "Units:      %d/%d\n", len(sum.Units), sum.MaxNodes)
	} else {
		fmt.Fprintf(out, "Units:      %d\n", len(sum.Units))
	}

	if !sum.Topology.Empty() {
		t := sum.Topology
		fmt.Fprintf(out, "Network:    %s\n", t.VPCID)
		fmt.Fprintf(out, "Gateway:    %s\n", t.GatewayID)
		fmt.Fprintf(out, "Routes:     %s\n", t.RouteTableID)
		fmt.Fprintf(out, "Subnets:    %s\n", strings.Join(t.SubnetIDs, ", "))
		fmt.Fprintf(out, "Security:   %s\n", t.SecurityGroupID)
	}

	if len(sum.Units) == 0 {
		fmt.Fprintln(out, "\nNo active units")
		return nil
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tBLOCKSIZE\tLABEL\tAGE")
	for _, u := range sum.Units {
		age := "-"
		if !u.CreatedAt.IsZero() {
			age = time.Since(u.CreatedAt).Truncate(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%g\t%s\t%s\n", u.ID, u.Status, u.Blocksize, u.Label, age)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
