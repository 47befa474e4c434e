package main

import (
	"github.com/spf13/cobra"

	"github.com/foliocms/folio/cache"
	"github.com/foliocms/folio/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "folioctl",
	Short: "Folio cache administration",
	Long: `folioctl inspects and maintains the page cache from the command
line, against the same backend the server uses.`,
	SilenceUsage: true,
}

var rootOpts struct {
	config  string
	backend string
	path    string
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.config, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&rootOpts.backend, "backend", "", "Cache backend (overrides config)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.path, "path", "", "Cache path (overrides config)")
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

// openStore opens the configured backend and returns the store plus a
// close function.
func openStore() (*cache.Store, func(), error) {
	cfg, err := config.Load(rootOpts.config)
	if err != nil {
		return nil, nil, err
	}
	backend, path := cfg.Cache.Backend, cfg.Cache.Path
	if rootOpts.backend != "" {
		backend = rootOpts.backend
	}
	if rootOpts.path != "" {
		path = rootOpts.path
	}
	provider, err := cache.OpenProvider(backend, path)
	if err != nil {
		return nil, nil, err
	}
	store := cache.New(cache.Config{Provider: provider})
	return store, func() { provider.Close() }, nil
}
