package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "transitsync",
		Short: "Static GTFS index and GTFS-Realtime sync engine",
		Long: `transitsync imports a static GTFS archive into an embedded store, keeps
live vehicle positions, arrival predictions and delay incidents in sync with
GTFS-Realtime feeds, and serves both over a JSON API.

Configuration is read from a YAML file (--config), then TRANSITSYNC_*
environment variables (a .env file is loaded first when present), then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.register(root)
	root.AddCommand(newServeCmd(o), newImportCmd(o))
	return root
}
