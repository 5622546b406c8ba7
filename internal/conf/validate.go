// validate.go settings validation
package conf

import (
	"github.com/cortolima/treeobs-go/internal/errors"
)

// ValidateSettings checks the loaded settings for configurations that cannot
// work, returning a configuration-category error on the first problem found.
func ValidateSettings(settings *Settings) error {
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		return errors.Newf("only one database backend may be enabled").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return errors.Newf("no database backend enabled").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		return errors.Newf("sqlite enabled but no database path configured").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Output.MySQL.Enabled {
		m := &settings.Output.MySQL
		if m.Username == "" || m.Database == "" || m.Host == "" || m.Port == "" {
			return errors.Newf("incomplete mysql configuration").
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("host", m.Host).
				Context("database", m.Database).
				Build()
		}
	}

	if settings.Reconcile.BatchSize <= 0 {
		return errors.Newf("reconcile batch size must be positive, got %d", settings.Reconcile.BatchSize).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return nil
}
