package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ciphermesh/hyperia/internal/domain"
	"github.com/ciphermesh/hyperia/internal/search"
)

func newSearchCmd() *cobra.Command {
	var collection string
	var limit, offset, budgetMS int
	var all bool

	c := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one hybrid search against a collection (or every collection with --all)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), args[0], collection, limit, offset, budgetMS, all)
		},
	}
	c.Flags().StringVar(&collection, "collection", "default", "collection to query")
	c.Flags().IntVar(&limit, "limit", 10, "maximum results to return")
	c.Flags().IntVar(&offset, "offset", 0, "result offset for pagination")
	c.Flags().IntVar(&budgetMS, "budget-ms", 500, "performance budget in milliseconds (spec §4.6)")
	c.Flags().BoolVar(&all, "all", false, "search across every registered collection")
	return c
}

func runSearch(ctx context.Context, query, collection string, limit, offset, budgetMS int, all bool) error {
	st, err := buildStack()
	if err != nil {
		return fmt.Errorf("failed to build component stack: %w", err)
	}
	defer func() { _ = st.Close() }()

	engine := search.NewEngine(log)
	pagination := domain.Pagination{Limit: limit, Offset: offset}
	opts := search.DefaultOptions()

	if all {
		cis := st.registry.All()
		if len(cis) == 0 {
			return fmt.Errorf("no collections registered")
		}
		result, err := engine.GlobalSearch(ctx, cis, query, pagination, budgetMS, opts)
		if err != nil {
			return err
		}
		return printJSON(result.Documents)
	}

	ci, ok := st.registry.Resolve(collection)
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}
	result, err := engine.Search(ctx, ci, query, pagination, budgetMS, opts)
	if err != nil {
		return err
	}
	return printJSON(result.Documents)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
