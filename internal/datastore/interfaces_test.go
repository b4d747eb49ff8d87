package datastore

import (
	"testing"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestSettings returns settings with only the fields the store reads.
func createTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Main.Name = "SkyHub"
	return settings
}

// createDatabase initializes a temporary database for testing purposes.
// It ensures the database connection is opened and handles potential errors.
func createDatabase(t *testing.T, settings *conf.Settings) Interface {
	t.Helper()
	tempDir := t.TempDir()
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = tempDir + "/test.db"

	dataStore := New(settings)

	// Attempt to open a database connection.
	require.NoError(t, dataStore.Open(), "Failed to open database")

	// Ensure the database is closed after the test completes.
	t.Cleanup(func() {
		assert.NoError(t, dataStore.Close(), "Failed to close datastore")
	})

	return dataStore
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("sqlite enabled", func(t *testing.T) {
		t.Parallel()
		settings := createTestSettings(t)
		settings.Database.SQLite.Enabled = true
		store := New(settings)
		require.NotNil(t, store)
		assert.IsType(t, &SQLiteStore{}, store)
	})

	t.Run("mysql enabled", func(t *testing.T) {
		t.Parallel()
		settings := createTestSettings(t)
		settings.Database.MySQL.Enabled = true
		store := New(settings)
		require.NotNil(t, store)
		assert.IsType(t, &MySQLStore{}, store)
	})

	t.Run("no backend enabled", func(t *testing.T) {
		t.Parallel()
		settings := createTestSettings(t)
		assert.Nil(t, New(settings))
	})
}

func TestSQLiteStoreOpenRequiresPath(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = ""

	store := New(settings)
	require.NotNil(t, store)
	assert.Error(t, store.Open())
}

func TestPing(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)
	assert.NoError(t, ds.Ping())
}
