package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
	"github.com/moai-flow/swarm-kernel/cmd/swarm/output"
)

// NewStatusCommand builds `swarm status`.
func NewStatusCommand(c **client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show topology, resource, and health status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s := output.NewSpinner("fetching status...")
			s.Start()
			var status map[string]interface{}
			err := (*c).Get(ctx, "/api/v1/status", &status)
			s.Stop()
			if err != nil {
				return translateAPIError(err)
			}

			output.PrintHeader("Swarm Status")

			topo, _ := status["topology"].(map[string]interface{})
			fmt.Printf("Topology: %v  Agents: %v  Edges: %v  Health: %v\n",
				topo["type"], topo["agent_count"], topo["edge_count"], topo["health"])

			if resources, ok := status["resources"].(map[string]interface{}); ok {
				output.PrintSubHeader("Resources")
				fmt.Printf("Global budget: %v consumed / %v allocated (reserve %v)\n",
					resources["global_consumed"], resources["global_budget"], resources["reserve_buffer"])
				fmt.Printf("Queue depth: %v\n", resources["queue_depth"])
			}

			if health, ok := status["health"].(map[string]interface{}); ok {
				output.PrintSubHeader("Agent Health")
				rows := make([][]string, 0, len(health))
				for agentID, rec := range health {
					entry, _ := rec.(map[string]interface{})
					rows = append(rows, []string{agentID, fmt.Sprintf("%v", entry["state"])})
				}
				output.Table([]string{"Agent", "State"}, rows)
			}

			return nil
		},
	}
}
