package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		assert.True(t, strings.HasSuffix(e.Name(), ".sql"), "unexpected file %s", e.Name())

		data, err := migrationsFS.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		// goose refuses files without its direction markers.
		assert.Contains(t, string(data), "+goose Up")
		assert.Contains(t, string(data), "+goose Down")
	}
}

func TestMigrationsCoverCoreTables(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)
	schema := string(data)

	for _, table := range []string{"companies", "merge_candidates", "review_tasks", "discovery_runs"} {
		assert.Contains(t, schema, "CREATE TABLE "+table)
	}
	// Partial unique indexes guard the hard identifier keys.
	assert.Contains(t, schema, "companies_lei_key")
	assert.Contains(t, schema, "companies_vat_country_key")
}
