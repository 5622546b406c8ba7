// defaults.go default values for the configuration
package conf

import "github.com/spf13/viper"

// setDefaultConfig sets the default values for each configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "treeobs")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "logs/treeobs.log")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "treeobs.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "treeobs")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "treeobs")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("ingest.dir", "")
	viper.SetDefault("ingest.taxonomyurl", "")
	viper.SetDefault("ingest.placesurl", "")
	viper.SetDefault("ingest.recordsurl", "")
	viper.SetDefault("ingest.measurementsurl", "")
	viper.SetDefault("ingest.observationsurl", "")

	viper.SetDefault("reconcile.batchsize", 500)
	viper.SetDefault("reconcile.sentinelneighborhood", 0)
	viper.SetDefault("reconcile.sentinelname", "Desconocido")
}
