package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCollectionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "collection",
		Short: "Manage document collections (spec §3)",
	}
	c.AddCommand(newCollectionCreateCmd())
	c.AddCommand(newCollectionListCmd())
	return c
}

func newCollectionCreateCmd() *cobra.Command {
	var provider, model string
	var dims int

	c := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection with a fixed embedding configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			col, err := st.registry.Create(cmd.Context(), args[0], provider, model, dims)
			if err != nil {
				return err
			}
			fmt.Printf("created collection %q (provider=%s model=%s dimensions=%d)\n", col.Name, col.ProviderID, col.ModelID, col.Dimensions)
			return nil
		},
	}
	c.Flags().StringVar(&provider, "provider", "local", "embedding provider id")
	c.Flags().StringVar(&model, "model", "local-static", "embedding model id")
	c.Flags().IntVar(&dims, "dimensions", 768, "embedding dimensionality (one of the supported sizes)")
	return c
}

func newCollectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			names, err := st.metadata.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}
