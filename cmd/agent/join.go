package main

import (
	"errors"
	"fmt"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join <call-id>",
	Short: "Answer an existing call",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	id, err := domain.ParseCallID(args[0])
	if err != nil {
		return fmt.Errorf("invalid call id %q: %w", args[0], err)
	}

	a, err := newAgent(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.peer.JoinCall(a.ctx, id); err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			return fmt.Errorf("no call with id %s", id)
		}
		return fmt.Errorf("failed to join call: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Joined call %s\n", id)
	return a.wait(cmd)
}
