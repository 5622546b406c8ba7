// Package conf defines the application settings and loads them through viper.
package conf

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var defaultConfig []byte

// LogConfig contains settings for a rotating file log.
type LogConfig struct {
	Enabled bool   // true to write a JSON log file in addition to console output
	Path    string // path to the log file
}

// MainSettings contains general application settings.
type MainSettings struct {
	Name string    // node name, included in run reports
	Log  LogConfig // file log settings
}

// SQLiteSettings contains SQLite database settings.
type SQLiteSettings struct {
	Enabled bool   // true to use SQLite
	Path    string // path to the SQLite database file
}

// MySQLSettings contains MySQL database settings.
type MySQLSettings struct {
	Enabled  bool   // true to use MySQL
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL host
	Port     string // MySQL port
}

// OutputSettings selects the persistent store backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// IngestSettings names the five tabular sources. Dir takes precedence over
// the per-source URLs when set.
type IngestSettings struct {
	Dir             string // local directory containing the CSV files
	TaxonomyURL     string // URL for the taxonomy CSV
	PlacesURL       string // URL for the places CSV
	RecordsURL      string // URL for the tree records CSV
	MeasurementsURL string // URL for the measurements CSV
	ObservationsURL string // URL for the observations CSV
}

// ReconcileSettings contains defaults for the neighborhood reconciliation job.
type ReconcileSettings struct {
	BatchSize            int    // records per transaction batch
	SentinelNeighborhood uint   // ID of the sentinel "unknown" neighborhood
	SentinelName         string // name used to locate the sentinel when the ID is zero
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool // true to enable debug logging

	Main      MainSettings
	Output    OutputSettings
	Ingest    IngestSettings
	Reconcile ReconcileSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.Mutex
)

// Load reads the configuration into a Settings struct and stores it as the
// package-level instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if configDir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(configDir, "treeobs"))
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// First run: write the default config for the user to edit,
			// then continue on defaults.
			if configDir, dirErr := os.UserConfigDir(); dirErr == nil {
				path := filepath.Join(configDir, "treeobs", "config.yaml")
				if writeErr := WriteDefaultConfig(path); writeErr == nil {
					fmt.Println("created default config at", path)
				}
			}
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// WriteDefaultConfig writes the embedded default configuration to path.
func WriteDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config: %w", err)
	}
	return nil
}

// Setting returns the loaded settings instance, loading it on first use.
func Setting() *Settings {
	if settingsInstance == nil {
		if _, err := Load(); err != nil {
			panic(fmt.Sprintf("settings not loaded: %v", err))
		}
	}
	return settingsInstance
}
