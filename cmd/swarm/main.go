// Command swarm is the cobra-based CLI surface spec'd alongside
// internal/api: every subcommand is a thin HTTP client call against a
// running cmd/server process, sharing the exact same
// swarmkernel.Kernel operations internal/api/handlers.go exposes so the
// CLI and HTTP surfaces can never drift in behavior. Grounded on
// cmd/cli/main.go's root-command/global-flag wiring.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
	"github.com/moai-flow/swarm-kernel/cmd/swarm/commands"
	"github.com/moai-flow/swarm-kernel/cmd/swarm/output"
)

var (
	serverURL string
	timeout   int

	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Control surface for a running swarm coordination kernel",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		apiClient = client.NewClient(serverURL, time.Duration(timeout)*time.Second)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "url", "u", "http://localhost:8088", "swarm server base URL")
	rootCmd.PersistentFlags().IntVarP(&timeout, "timeout", "t", 30, "request timeout in seconds")

	rootCmd.AddCommand(commands.NewInitCommand(&apiClient))
	rootCmd.AddCommand(commands.NewRegisterCommand(&apiClient))
	rootCmd.AddCommand(commands.NewUnregisterCommand(&apiClient))
	rootCmd.AddCommand(commands.NewStatusCommand(&apiClient))
	rootCmd.AddCommand(commands.NewConsensusCommand(&apiClient))
	rootCmd.AddCommand(commands.NewBudgetCommand(&apiClient))
	rootCmd.AddCommand(commands.NewHealthCommand(&apiClient))
	rootCmd.AddCommand(commands.NewPatternsCommand(&apiClient))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		output.PrintError(err.Error())
		os.Exit(commands.ExitCode(err))
	}
}
