// Package reconcile implements the neighborhood backfill subcommand.
package reconcile

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cortolima/treeobs-go/internal/conf"
	"github.com/cortolima/treeobs-go/internal/datastore"
	"github.com/cortolima/treeobs-go/internal/reconcile"
)

// Command creates the reconcile subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var opts reconcile.Options

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reassign records on the unknown neighborhood by spatial location",
		Long: "Runs the neighborhood backfill job: records pointing at the sentinel " +
			"unknown neighborhood are matched against the stored boundaries and " +
			"reassigned, with a per-locality placeholder when only a locality " +
			"boundary contains the point.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, settings, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false,
		"Simulate the run without writing anything")
	cmd.Flags().BoolVar(&opts.StatsOnly, "stats-only", false,
		"Report the eligible record count and exit")
	cmd.Flags().BoolVar(&opts.AllRecords, "all-records", false,
		"Also reprocess records that already carry a provenance note")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0,
		"Maximum number of records to process, 0 means all")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", viper.GetInt("reconcile.batchsize"),
		"Records per transaction batch")
	cmd.Flags().UintVar(&opts.SentinelID, "sentinel-neighborhood", viper.GetUint("reconcile.sentinelneighborhood"),
		"ID of the sentinel unknown neighborhood, 0 resolves it by name")

	return cmd
}

func runReconcile(cmd *cobra.Command, settings *conf.Settings, opts reconcile.Options) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Printf("failed to close database: %v\n", err)
		}
	}()

	rep, err := reconcile.New(store, settings).Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	fmt.Println(rep.String())
	return nil
}
