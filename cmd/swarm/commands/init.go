package commands

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
	"github.com/moai-flow/swarm-kernel/cmd/swarm/output"
)

type initTopologyRequest struct {
	Mode          string `json:"mode"`
	SigningSecret string `json:"signing_secret"`
	Reason        string `json:"reason"`
}

// NewInitCommand builds `swarm init <topology>`.
func NewInitCommand(c **client.Client) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "init <mesh|star|ring|hierarchical>",
		Short: "Switch the live swarm topology",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := args[0]

			req := initTopologyRequest{Mode: mode, Reason: "cli_init"}
			if interactive {
				secret, err := promptSigningSecret()
				if err != nil {
					return NewExitError(ExitIOError, fmt.Errorf("reading signing secret: %w", err))
				}
				req.SigningSecret = secret
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var info map[string]interface{}
			if err := (*c).Post(ctx, "/api/v1/topology/init", req, &info); err != nil {
				return translateAPIError(err)
			}

			if info["type"] != mode {
				return NewExitError(ExitPostConditionFailed, fmt.Errorf("requested mode %q but topology reports %q", mode, info["type"]))
			}

			output.PrintSuccess(fmt.Sprintf("topology initialized: %s", mode))
			return nil
		},
	}

	cmd.Flags().BoolVar(&interactive, "interactive", false, "prompt for a signing secret to enable agent capability tokens")
	return cmd
}

func promptSigningSecret() (string, error) {
	fmt.Print("Signing secret: ")
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
