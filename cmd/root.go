package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kbase",
	Short: "kbase - document knowledge base with retrieval-augmented answers",
	Long: `kbase ingests documents (PDF, DOCX, TXT, MD) into a PostgreSQL + pgvector
knowledge base and answers questions grounded in their content.

Run 'kbase migrate' once to prepare the database, 'kbase ingest' to add
documents and 'kbase ask' to query them.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
