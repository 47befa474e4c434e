package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache contents and sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		stats := store.Stats()
		fmt.Printf("entries: %d\n", stats.Entries)
		fmt.Printf("total size: %d bytes (%d stored)\n", stats.TotalSize, stats.CompressedSize)
		for _, item := range stats.Items {
			state := "fresh"
			if item.Expired {
				state = "expired"
			}
			fmt.Printf("  %-40s %-10s %8d bytes  %s  hits=%d\n",
				item.Key, item.Type, item.SizeBytes, state, item.AccessCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
