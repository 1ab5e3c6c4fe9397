package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func neighborCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "neighbor",
		Aliases: []string{"neighbors", "nbr"},
		Short:   "Inspect RIP neighbors",
	}

	cmd.AddCommand(neighborListCmd())

	return cmd
}

func neighborListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List neighbors the daemon has heard from",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			neighbors, err := client.listNeighbors(context.Background())
			if err != nil {
				return fmt.Errorf("list neighbors: %w", err)
			}

			out, err := formatNeighbors(neighbors, outputFormat)
			if err != nil {
				return fmt.Errorf("format neighbors: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
