package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apconole/pw-ci/internal/domain/model"
)

func TestSeriesRepo_Add_Get(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSeriesRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, makeSeries(42)))

	got, err := repo.Get(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "netdev", got.Project)
	assert.Equal(t, "net: fix refcount leak", got.Name)
	assert.Equal(t, "Dev Eloper", got.SubmitterName)
	assert.Equal(t, "dev@example.com", got.SubmitterEmail)
	assert.Equal(t, []int64{421, 422}, got.PatchIDs)
	assert.Equal(t, "abc123", got.HeadSHA)
	assert.False(t, got.Retired)
	assert.Equal(t, "series_42", got.Branch())
}

func TestSeriesRepo_Get_Unknown(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSeriesRepo(db)

	got, err := repo.Get(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSeriesRepo_Add_EmptyPatchIDs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSeriesRepo(db)
	ctx := context.Background()

	s := makeSeries(7)
	s.PatchIDs = nil
	require.NoError(t, repo.Add(ctx, s))

	got, err := repo.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.PatchIDs)
}

func TestSeriesRepo_ListActive_ExcludesRetired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSeriesRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, makeSeries(1)))
	require.NoError(t, repo.Add(ctx, makeSeries(2)))
	require.NoError(t, repo.Add(ctx, makeSeries(3)))
	require.NoError(t, repo.Retire(ctx, 2))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, int64(1), active[0].ID)
	assert.Equal(t, int64(3), active[1].ID)
}

func TestSeriesRepo_UpdateHead(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSeriesRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, makeSeries(5)))
	require.NoError(t, repo.UpdateHead(ctx, 5, "def456", []int64{900, 901, 902}))

	got, err := repo.Get(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "def456", got.HeadSHA)
	assert.Equal(t, []int64{900, 901, 902}, got.PatchIDs)
}

func TestSeriesRepo_UpdateHead_Unknown(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSeriesRepo(db)

	err := repo.UpdateHead(context.Background(), 999, "def456", nil)
	assert.Error(t, err)
}

func TestSeriesRepo_Retire(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSeriesRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, makeSeries(9)))
	require.NoError(t, repo.Retire(ctx, 9))

	got, err := repo.Get(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Retired)
}

func TestSeriesRepo_Add_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSeriesRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, makeSeries(11)))
	err := repo.Add(ctx, makeSeries(11))
	assert.Error(t, err)
}

func TestSeriesBranchNaming(t *testing.T) {
	s := model.Series{ID: 123456}
	assert.Equal(t, "series_123456", s.Branch())
}
