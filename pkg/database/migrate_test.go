package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames_Ordered(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	assert.Equal(t, "001_documents.sql", names[0])
	assert.IsNonDecreasing(t, names)
}

func TestMigrations_CreateDocumentsTable(t *testing.T) {
	sql, err := migrationsFS.ReadFile("migrations/001_documents.sql")
	require.NoError(t, err)
	assert.Contains(t, string(sql), "PRIMARY KEY (collection, id)")
}
