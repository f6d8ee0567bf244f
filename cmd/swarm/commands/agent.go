package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
	"github.com/moai-flow/swarm-kernel/cmd/swarm/output"
)

type registerAgentRequest struct {
	AgentID      string                 `json:"agent_id"`
	AgentType    string                 `json:"agent_type"`
	Capabilities []string               `json:"capabilities,omitempty"`
	ParentID     string                 `json:"parent_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewRegisterCommand builds `swarm register <id> <type> [--parent <p>]`.
func NewRegisterCommand(c **client.Client) *cobra.Command {
	var parentID string
	var capabilities []string

	cmd := &cobra.Command{
		Use:   "register <id> <type>",
		Short: "Register a new agent in the active topology",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := registerAgentRequest{
				AgentID:      args[0],
				AgentType:    args[1],
				ParentID:     parentID,
				Capabilities: capabilities,
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var agent map[string]interface{}
			if err := (*c).Post(ctx, "/api/v1/agents", req, &agent); err != nil {
				return translateAPIError(err)
			}

			output.PrintSuccess(fmt.Sprintf("agent %q registered", req.AgentID))
			return nil
		},
	}

	cmd.Flags().StringVar(&parentID, "parent", "", "parent agent id (hierarchical mode only)")
	cmd.Flags().StringSliceVar(&capabilities, "capabilities", nil, "comma-separated capability tags")
	return cmd
}

// NewUnregisterCommand builds `swarm unregister <id>`.
func NewUnregisterCommand(c **client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <id>",
		Short: "Remove an agent from the active topology",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := (*c).Delete(ctx, "/api/v1/agents/"+strings.TrimSpace(args[0])); err != nil {
				return translateAPIError(err)
			}

			output.PrintSuccess(fmt.Sprintf("agent %q unregistered", args[0]))
			return nil
		},
	}
}
