package journal

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
)

func TestFileStore_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	j := &Journal{
		Bot:        "ma_cross",
		Parameters: domain.ParameterSet{"fast": 5, "slow": 20},
		Summary:    Summary{ROI: 0.12, Bars: 100},
		Points:     []Point{{TimestampMs: 1, Balance: 100, Equity: 101}},
	}
	path, err := store.Write(ctx, "job-1/abc", j)
	require.NoError(t, err)
	assert.Equal(t, path, store.Locate("job-1/abc"))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, j.Parameters, got.Parameters)
	assert.Equal(t, 0.12, got.Summary.ROI)
	assert.Len(t, got.Points, 1)

	require.NoError(t, store.Delete(ctx, path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, store.Delete(ctx, path), ErrNotFound)
}

func TestFileStore_ArtifactStaysInsideDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	path, err := store.WriteArtifact(ctx, "../../escape.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Contains(t, path, dir)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	path, err := store.Write(ctx, "x", &Journal{Bot: "b"})
	require.NoError(t, err)
	assert.Equal(t, path, store.Locate("x"))
	_, ok := store.Get(path)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, path))
	assert.ErrorIs(t, store.Delete(ctx, path), ErrNotFound)
	assert.Empty(t, store.Paths())
}
