package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errPrefixRequired indicates a command requiring a prefix argument was
// invoked without one.
var errPrefixRequired = errors.New("a prefix argument is required")

func routeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Inspect the RIP route database",
	}

	cmd.AddCommand(routeListCmd())
	cmd.AddCommand(routeShowCmd())

	return cmd
}

// --- route list ---

func routeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all routes known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			routes, err := client.listRoutes(context.Background())
			if err != nil {
				return fmt.Errorf("list routes: %w", err)
			}

			out, err := formatRoutes(routes, outputFormat)
			if err != nil {
				return fmt.Errorf("format routes: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- route show ---

func routeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <prefix>",
		Short: "Show a single route by prefix (CIDR form, e.g. 10.0.0.0/24)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if args[0] == "" {
				return errPrefixRequired
			}

			route, err := client.getRoute(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get route: %w", err)
			}

			out, err := formatRoute(route, outputFormat)
			if err != nil {
				return fmt.Errorf("format route: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
