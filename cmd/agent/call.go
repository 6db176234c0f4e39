package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Create a call and wait for someone to join",
	Long: `call creates a call record, publishes this side's offer and language, and
prints the call id. Share the id with the other participant, who runs
"parley-agent join <id>".`,
	Args: cobra.NoArgs,
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	a, err := newAgent(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	id, err := a.peer.CreateCall(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Call id: %s\n", id)
	return a.wait(cmd)
}
