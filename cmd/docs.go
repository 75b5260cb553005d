package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/velikanov/kbase/internal/app"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage ingested documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all documents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			docs, err := a.Ingest.List(ctx)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Println("knowledge base is empty")
				return nil
			}
			for _, d := range docs {
				fmt.Printf("%6d  %-40s  %4d chunks  %s\n",
					d.ID, d.Filename, d.TotalChunks, d.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		})
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a document and all its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			deleted, err := a.Ingest.Delete(ctx, id)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("document %d not found", id)
			}
			fmt.Printf("document %d deleted\n", id)
			return nil
		})
	},
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsDeleteCmd)
	rootCmd.AddCommand(docsCmd)
}
