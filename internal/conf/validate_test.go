package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortolima/treeobs-go/internal/errors"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "treeobs.db"
	s.Reconcile.BatchSize = 500
	return s
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejectsBothBackends(t *testing.T) {
	t.Parallel()
	s := validSettings()
	s.Output.MySQL.Enabled = true

	err := ValidateSettings(s)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
}

func TestValidateSettingsRejectsNoBackend(t *testing.T) {
	t.Parallel()
	s := validSettings()
	s.Output.SQLite.Enabled = false

	require.Error(t, ValidateSettings(s))
}

func TestValidateSettingsRequiresSQLitePath(t *testing.T) {
	t.Parallel()
	s := validSettings()
	s.Output.SQLite.Path = ""

	require.Error(t, ValidateSettings(s))
}

func TestValidateSettingsRequiresCompleteMySQL(t *testing.T) {
	t.Parallel()
	s := validSettings()
	s.Output.SQLite.Enabled = false
	s.Output.MySQL.Enabled = true
	s.Output.MySQL.Username = "treeobs"
	s.Output.MySQL.Database = "treeobs"
	s.Output.MySQL.Host = "localhost"

	require.Error(t, ValidateSettings(s), "missing port must be rejected")

	s.Output.MySQL.Port = "3306"
	require.NoError(t, ValidateSettings(s))
}

func TestValidateSettingsRejectsNonPositiveBatchSize(t *testing.T) {
	t.Parallel()
	s := validSettings()
	s.Reconcile.BatchSize = 0

	require.Error(t, ValidateSettings(s))
}
