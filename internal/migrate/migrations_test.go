package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hourline/internal/db"
	"hourline/internal/migrate"
)

func TestApplyIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	latest, err := migrate.Latest()
	require.NoError(t, err)

	res, err := migrate.Apply(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, res.From)
	assert.Equal(t, latest, res.To)
	assert.Contains(t, res.Applied, "001_init.sql")

	res, err = migrate.Apply(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Equal(t, latest, res.From)

	v, err = migrate.Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	for _, table := range []string{"contributors", "contributor_rates", "entries", "events", "api_keys", "actor_roles"} {
		var n int
		require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}
