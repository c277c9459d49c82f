package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/push-worker/internal/db"
)

func TestMigrationURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/push":   "pgx5://u:p@localhost:5432/push",
		"postgresql://u:p@localhost:5432/push": "pgx5://u:p@localhost:5432/push",
		"pgx5://u:p@localhost:5432/push":       "pgx5://u:p@localhost:5432/push",
		"u:p@localhost:5432/push":              "pgx5://u:p@localhost:5432/push",
	}
	for in, want := range tests {
		assert.Equal(t, want, db.MigrationURL(in), in)
	}
}
