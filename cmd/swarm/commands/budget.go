package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
	"github.com/moai-flow/swarm-kernel/cmd/swarm/output"
)

// NewBudgetCommand builds the `budget` command group.
func NewBudgetCommand(c **client.Client) *cobra.Command {
	group := &cobra.Command{
		Use:   "budget",
		Short: "Inspect token budget usage",
	}

	show := &cobra.Command{
		Use:   "show [swarm]",
		Short: "Show global or per-swarm token budget usage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/budget"
			if len(args) == 1 {
				path += "?swarm=" + url.QueryEscape(args[0])
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var usage map[string]interface{}
			if err := (*c).Get(ctx, path, &usage); err != nil {
				return translateAPIError(err)
			}

			output.PrintHeader("Token Budget")
			if len(args) == 1 {
				fmt.Printf("Swarm %s: consumed %v / allocated %v (reserved %v)\n",
					args[0], usage["consumed"], usage["allocated"], usage["reserved"])
				return nil
			}

			fmt.Printf("Global: consumed %v / budget %v (reserve %v)\n",
				usage["global_consumed"], usage["global_budget"], usage["reserve_buffer"])
			return nil
		},
	}

	group.AddCommand(show)
	return group
}
