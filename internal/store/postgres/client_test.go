package postgres

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSNPrefersExplicitValue(t *testing.T) {
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestDSNFromFields(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "spreadbot", User: "u", Password: "p"})
	assert.Equal(t, "postgres://u:p@db:5432/spreadbot?sslmode=disable", got)
}

func TestMigrationsDeclareDedupIndex(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/001_opportunities.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE UNIQUE INDEX IF NOT EXISTS opportunities_dedup_idx")
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_opportunities.sql", names[0])
	assert.IsIncreasing(t, names)
}
