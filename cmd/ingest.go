package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/velikanov/kbase/internal/app"
	"github.com/velikanov/kbase/internal/extract"
	"github.com/velikanov/kbase/internal/ingest"
	"github.com/velikanov/kbase/internal/store"
)

var ingestUserID int64

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]...",
	Short: "Add documents to the knowledge base",
	Long: `Ingest reads each file, extracts its text, splits it into overlapping
chunks, embeds them and stores everything in the knowledge base.
Supported formats: PDF, DOCX, TXT, MD. Duplicate content is rejected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestUserID, "user", 0, "user id to record as the uploader")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		var failed int
		for _, path := range args {
			if err := ingestOne(ctx, a, path); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	})
}

func ingestOne(ctx context.Context, a *app.App, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	res, err := a.Ingest.ProcessFile(ctx, data, filepath.Base(path), ingestUserID)
	switch {
	case errors.Is(err, store.ErrDuplicateDocument):
		return errors.New("already in the knowledge base")
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return errors.New("unsupported format, use PDF, DOCX, TXT or MD")
	case errors.Is(err, ingest.ErrEmptyDocument):
		return errors.New("no extractable text, the file may be empty or protected")
	case err != nil:
		return err
	}

	fmt.Printf("%s: document %d, %d chunks", res.Filename, res.DocumentID, res.ChunksCreated)
	if res.ChunksSkipped > 0 {
		fmt.Printf(" (%d skipped)", res.ChunksSkipped)
	}
	fmt.Println()
	return nil
}
