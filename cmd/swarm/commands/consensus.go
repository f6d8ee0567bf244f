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

type proposeConsensusRequest struct {
	Payload   map[string]interface{} `json:"payload"`
	Algorithm string                 `json:"algorithm,omitempty"`
}

// NewConsensusCommand builds the `consensus` command group.
func NewConsensusCommand(c **client.Client) *cobra.Command {
	var algorithm string

	group := &cobra.Command{
		Use:   "consensus",
		Short: "Propose and inspect consensus decisions",
	}

	propose := &cobra.Command{
		Use:   "propose <json>",
		Short: "Propose a decision payload to the swarm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
				return NewExitError(ExitInvalidInput, fmt.Errorf("payload must be valid JSON: %w", err))
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var result map[string]interface{}
			if err := (*c).Post(ctx, "/api/v1/consensus/propose", proposeConsensusRequest{
				Payload:   payload,
				Algorithm: algorithm,
			}, &result); err != nil {
				return translateAPIError(err)
			}

			output.PrintHeader("Consensus Result")
			fmt.Printf("Decision: %v  For: %v  Against: %v  Abstain: %v  Algorithm: %v\n",
				result["decision"], result["votes_for"], result["votes_against"],
				result["votes_abstain"], result["algorithm_used"])
			return nil
		},
	}
	propose.Flags().StringVar(&algorithm, "algorithm", "", "quorum | weighted | byzantine (defaults to the manager's configured algorithm)")

	group.AddCommand(propose)
	return group
}
