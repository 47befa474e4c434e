package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foliocms/folio/cache"
)

var migrateOpts struct {
	fromBackend string
	fromPath    string
	toBackend   string
	toPath      string
}

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy all cache entries from one backend to another",
	Long: `Copy every entry and its tag associations from one backend to
another, e.g. when promoting a file-backed cache to sqlite. The source
is left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := cache.OpenProvider(migrateOpts.fromBackend, migrateOpts.fromPath)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		defer from.Close()
		to, err := cache.OpenProvider(migrateOpts.toBackend, migrateOpts.toPath)
		if err != nil {
			return fmt.Errorf("open destination: %w", err)
		}
		defer to.Close()

		n, err := cache.Migrate(from, to)
		fmt.Printf("migrated %d entries\n", n)
		return err
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateOpts.fromBackend, "from-backend", "file", "Source backend")
	migrateCmd.Flags().StringVar(&migrateOpts.fromPath, "from-path", "", "Source path")
	migrateCmd.Flags().StringVar(&migrateOpts.toBackend, "to-backend", "sqlite", "Destination backend")
	migrateCmd.Flags().StringVar(&migrateOpts.toPath, "to-path", "", "Destination path")
	migrateCmd.MarkFlagRequired("from-path")
	migrateCmd.MarkFlagRequired("to-path")
	rootCmd.AddCommand(migrateCmd)
}
