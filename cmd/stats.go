package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velikanov/kbase/internal/app"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base and usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			stats, err := a.Retrieval.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Documents:     %d\n", stats.Documents)
			fmt.Printf("Chunks:        %d\n", stats.Chunks)
			fmt.Printf("Queries today: %d\n", stats.QueriesToday)
			fmt.Printf("Queries total: %d\n", stats.QueriesTotal)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
