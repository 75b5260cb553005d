package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velikanov/kbase/internal/app"
)

var askUserID int64

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the knowledge base",
	Long: `Ask embeds the question, retrieves the most relevant document chunks
and generates an answer grounded in them. When the knowledge base has
nothing relevant the assistant answers from general knowledge instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().Int64Var(&askUserID, "user", 0, "user id to record in usage statistics")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		if a.Config.RAG.Enabled {
			out := a.Retrieval.ProcessQuery(ctx, question, askUserID, nil)
			if out.Answered {
				fmt.Println(out.Response)
				fmt.Printf("\n(%d chunks, %d ms)\n", out.ChunksUsed, out.ResponseTimeMS)
				return nil
			}
		}

		answer, err := a.Assistant.Respond(ctx, question, nil, false)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	})
}
