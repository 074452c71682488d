package rawimport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseWritePunchesLongZeroRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparse.raw")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]byte, sparseHoleWindow*3)
	copy(data[:8], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	copy(data[len(data)-8:], []byte{9, 8, 7, 6, 5, 4, 3, 2})

	n, err := sparseWrite(f, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, f.Truncate(int64(len(data))))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, out))
}

func TestSparseWriteKeepsShortZeroRunsLiteral(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparse.raw")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := append([]byte{1, 2, 3}, make([]byte, sparseHoleWindow-1)...)
	data = append(data, 4, 5, 6)

	n, err := sparseWrite(f, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, out))
}

func TestNextRunClassifiesHoleOnlyWhenLongEnough(t *testing.T) {
	short := make([]byte, sparseHoleWindow-1)
	n, isHole := nextRun(short)
	assert.Equal(t, len(short), n)
	assert.False(t, isHole)

	long := make([]byte, sparseHoleWindow+5)
	n, isHole = nextRun(long)
	assert.Equal(t, len(long), n)
	assert.True(t, isHole)
}
