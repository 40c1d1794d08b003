package abuse

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/karma-bot/internal/db/postgres/pgtest"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) { pgtest.Main(m, &testPool) }

func TestRepository_CountsAndPrune(t *testing.T) {
	pool := pgtest.Setup(t, testPool)
	repo := NewRepository(pool)
	ctx := context.Background()

	groupID := pgtest.SeedGroup(t, pool, -1)
	a := pgtest.SeedUser(t, pool, 1, "a")
	b := pgtest.SeedUser(t, pool, 2, "b")
	c := pgtest.SeedUser(t, pool, 3, "c")

	now := time.Now().UTC().Truncate(time.Second)
	record := func(source, target int64, at time.Time) {
		require.NoError(t, repo.Record(ctx, Event{SourceID: source, TargetID: target, GroupID: groupID, Kind: KindKarma, CreatedAt: at}))
	}
	record(a, b, now.Add(-time.Minute))
	record(a, b, now.Add(-10*time.Minute))
	record(a, b, now.Add(-20*time.Minute))
	record(a, c, now.Add(-time.Hour))
	record(a, c, now.Add(-40*24*time.Hour))
	record(b, a, now.Add(-time.Minute))

	pair, err := repo.CountBySourceTarget(ctx, a, b, now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, pair)

	daily, err := repo.CountBySource(ctx, a, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, daily)

	pruned, err := repo.Prune(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	all, err := repo.CountBySource(ctx, a, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, all)
}
