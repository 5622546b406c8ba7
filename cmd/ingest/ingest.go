// Package ingest implements the import subcommand.
package ingest

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cortolima/treeobs-go/internal/conf"
	"github.com/cortolima/treeobs-go/internal/datastore"
	"github.com/cortolima/treeobs-go/internal/ingest"
)

// Command creates the ingest subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import the census source files in dependency order",
		Long: "Imports taxonomy, places, tree records, measurements and observations, " +
			"in that order, from a local directory or per-source URLs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, settings)
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

func runIngest(cmd *cobra.Command, settings *conf.Settings) error {
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

	orchestrator, err := ingest.NewOrchestrator(store, settings)
	if err != nil {
		return err
	}
	run, err := orchestrator.ImportAll(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Print(run.String())
	if failed := run.TotalFailed(); failed > 0 {
		fmt.Printf("warning: %d rows failed, see the log for details\n", failed)
	}
	return nil
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVar(&settings.Ingest.Dir, "dir", viper.GetString("ingest.dir"),
		"Directory containing the source CSV files, takes precedence over URLs")
	cmd.Flags().StringVar(&settings.Ingest.TaxonomyURL, "taxonomy-url", viper.GetString("ingest.taxonomyurl"),
		"URL of the taxonomy CSV")
	cmd.Flags().StringVar(&settings.Ingest.PlacesURL, "places-url", viper.GetString("ingest.placesurl"),
		"URL of the places CSV")
	cmd.Flags().StringVar(&settings.Ingest.RecordsURL, "records-url", viper.GetString("ingest.recordsurl"),
		"URL of the tree records CSV")
	cmd.Flags().StringVar(&settings.Ingest.MeasurementsURL, "measurements-url", viper.GetString("ingest.measurementsurl"),
		"URL of the measurements CSV")
	cmd.Flags().StringVar(&settings.Ingest.ObservationsURL, "observations-url", viper.GetString("ingest.observationsurl"),
		"URL of the observations CSV")
}
