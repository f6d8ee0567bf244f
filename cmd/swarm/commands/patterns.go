package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
	"github.com/moai-flow/swarm-kernel/cmd/swarm/output"
)

// NewPatternsCommand builds the `patterns` command group.
func NewPatternsCommand(c **client.Client) *cobra.Command {
	group := &cobra.Command{
		Use:   "patterns",
		Short: "Analyze learned execution patterns",
	}

	var days int
	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze performance trends and learned patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/patterns/analyze"
			if cmd.Flags().Changed("days") {
				path += "?days=" + strconv.Itoa(days)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var analysis map[string]interface{}
			if err := (*c).Get(ctx, path, &analysis); err != nil {
				return translateAPIError(err)
			}

			output.PrintHeader("Pattern Analysis")

			if perf, ok := analysis["performance"].(map[string]interface{}); ok {
				fmt.Printf("Window: %vms  Mean duration: %vms  Trend: %v\n",
					perf["window_ms"], perf["mean_duration_ms"], perf["trend"])
			}

			if slow, ok := analysis["slow_agents"].([]interface{}); ok && len(slow) > 0 {
				output.PrintSubHeader("Slow Agents")
				rows := make([][]string, 0, len(slow))
				for _, b := range slow {
					entry, _ := b.(map[string]interface{})
					rows = append(rows, []string{fmt.Sprintf("%v", entry["details"]), fmt.Sprintf("%v", entry["severity"])})
				}
				output.Table([]string{"Details", "Severity"}, rows)
			}

			if patterns, ok := analysis["patterns"].(map[string]interface{}); ok && len(patterns) > 0 {
				output.PrintSubHeader("Learned Patterns")
				fmt.Printf("%d distinct patterns tracked\n", len(patterns))
			}

			return nil
		},
	}
	analyze.Flags().IntVar(&days, "days", 7, "lookback window in days")

	group.AddCommand(analyze)
	return group
}
