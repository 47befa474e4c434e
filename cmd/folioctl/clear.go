package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cachekey "github.com/foliocms/folio/pkg/cache-key"
)

var clearOpts struct {
	all     bool
	expired bool
	typ     string
	tag     string
}

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cache entries by type, tag, or everything",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		var cleared int
		switch {
		case clearOpts.tag != "":
			cleared = store.InvalidateByTag(clearOpts.tag)
		case clearOpts.typ != "":
			if !cachekey.ValidType(clearOpts.typ) {
				return fmt.Errorf("unknown cache type: %s", clearOpts.typ)
			}
			cleared = store.ClearType(clearOpts.typ)
		case clearOpts.expired:
			cleared = store.ClearExpired()
		case clearOpts.all:
			cleared = store.ClearAll()
		default:
			return fmt.Errorf("nothing selected: use --all, --expired, --type or --tag")
		}
		fmt.Printf("cleared %d entries\n", cleared)
		return nil
	},
}

// invalidateCmd represents the invalidate command
var invalidateCmd = &cobra.Command{
	Use:   "invalidate <key>",
	Short: "Invalidate a single cache key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		fmt.Printf("invalidated %d entries\n", store.Invalidate(args[0]))
		return nil
	},
}

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned tag associations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		fmt.Printf("removed %d orphaned tag rows\n", store.SweepOrphans())
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearOpts.all, "all", false, "Clear every entry")
	clearCmd.Flags().BoolVar(&clearOpts.expired, "expired", false, "Clear expired entries only")
	clearCmd.Flags().StringVar(&clearOpts.typ, "type", "", "Clear one cache type")
	clearCmd.Flags().StringVar(&clearOpts.tag, "tag", "", "Clear entries carrying a tag")
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(sweepCmd)
}
