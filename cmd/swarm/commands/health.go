package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
	"github.com/moai-flow/swarm-kernel/cmd/swarm/output"
)

// NewHealthCommand builds the `health` command group.
func NewHealthCommand(c **client.Client) *cobra.Command {
	group := &cobra.Command{
		Use:   "health",
		Short: "Inspect agent heartbeat health and bottlenecks",
	}

	var format string
	report := &cobra.Command{
		Use:   "report",
		Short: "Print the current health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "" && format != "json" && format != "markdown" {
				return NewExitError(ExitInvalidInput, fmt.Errorf("--format must be json or markdown, got %q", format))
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var rep map[string]interface{}
			if err := (*c).Get(ctx, "/api/v1/health", &rep); err != nil {
				return translateAPIError(err)
			}

			if format == "json" {
				encoded, err := json.MarshalIndent(rep, "", "  ")
				if err != nil {
					return NewExitError(ExitIOError, err)
				}
				fmt.Println(string(encoded))
				return nil
			}

			printHealthMarkdown(rep)
			return nil
		},
	}
	report.Flags().StringVar(&format, "format", "markdown", "json | markdown")

	group.AddCommand(report)
	return group
}

func printHealthMarkdown(rep map[string]interface{}) {
	output.PrintHeader("Health Report")

	agents, _ := rep["agents"].(map[string]interface{})
	rows := make([][]string, 0, len(agents))
	for agentID, rec := range agents {
		entry, _ := rec.(map[string]interface{})
		rows = append(rows, []string{agentID, fmt.Sprintf("%v", entry["state"])})
	}
	output.Table([]string{"Agent", "State"}, rows)

	bottlenecks, _ := rep["bottlenecks"].([]interface{})
	if len(bottlenecks) == 0 {
		return
	}
	output.PrintSubHeader("Bottlenecks")
	rows = rows[:0]
	for _, b := range bottlenecks {
		entry, _ := b.(map[string]interface{})
		rows = append(rows, []string{
			fmt.Sprintf("%v", entry["type"]),
			fmt.Sprintf("%v", entry["severity"]),
			fmt.Sprintf("%v", entry["details"]),
		})
	}
	output.Table([]string{"Type", "Severity", "Details"}, rows)
}
