package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ciphermesh/hyperia/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hyperia version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("hyperia %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
			return nil
		},
	}
}
