package main

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"transitsync.dev/internal/gtfs"
	"transitsync.dev/internal/logging"
)

// newImportCmd loads the static archive into the store and exits. An
// archive identical to the last import is left alone.
func newImportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import the static GTFS archive into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgs, err := loadConfigs(cmd, o)
			if err != nil {
				return err
			}
			if cfgs.gtfs.GtfsURL == "" {
				return errors.New("no static source: set --gtfs-url, static.url or TRANSITSYNC_STATIC_URL")
			}

			logger := logging.NewLogger(cfgs.app)
			ctx := logging.WithLogger(runContext(cmd), logger)
			manager, err := gtfs.InitGTFSManager(ctx, cfgs.gtfs)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			defer manager.Shutdown()

			counts := manager.Counts()
			tables := make([]string, 0, len(counts))
			for table := range counts {
				tables = append(tables, table)
			}
			sort.Strings(tables)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TABLE\tROWS\n")
			for _, table := range tables {
				fmt.Fprintf(tw, "%s\t%d\n", table, counts[table])
			}
			return tw.Flush()
		},
	}
}
