// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPgx5URL(t *testing.T) {
	assert.Equal(t,
		"pgx5://portal:secret@db:5432/meridian?sslmode=require",
		pgx5URL("postgres://portal:secret@db:5432/meridian?sslmode=require"))
	assert.Equal(t,
		"pgx5://portal@db/meridian",
		pgx5URL("postgresql://portal@db/meridian"))

	// Already converted or foreign schemes pass through untouched.
	assert.Equal(t, "pgx5://db/meridian", pgx5URL("pgx5://db/meridian"))
	assert.Equal(t, "host=db user=portal", pgx5URL("host=db user=portal"))
}
