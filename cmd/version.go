package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("kbase %s (%s)\n", AppVersion, GitCommit)

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(cfg.Describe())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
