package job

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLedger_MissingFileIsEmpty(t *testing.T) {
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "done_mics.txt"))
	require.NoError(t, err)
	assert.Zero(t, ledger.Len())
	assert.False(t, ledger.Contains("Movies/mic_001.mrc"))
}

func TestLedger_AppendPersistsAndIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done_mics.txt")

	ledger, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, ledger.Append([]string{"Movies/mic_001.mrc", "Movies/mic_002.mrc"}))

	assert.True(t, ledger.Contains("Movies/mic_001.mrc"))
	assert.Equal(t, 2, ledger.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Movies/mic_001.mrc\nMovies/mic_002.mrc\n", string(data))
}

func TestLedger_ReloadExcludesRecordedItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done_mics.txt")

	first, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, first.Append([]string{"Movies/mic_001.mrc"}))

	// A later invocation sees the earlier run's items.
	second, err := OpenLedger(path)
	require.NoError(t, err)
	assert.True(t, second.Contains("Movies/mic_001.mrc"))
	assert.False(t, second.Contains("Movies/mic_002.mrc"))

	require.NoError(t, second.Append([]string{"Movies/mic_002.mrc"}))
	third, err := OpenLedger(path)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Len())
}

func TestLedger_AppendNothingIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done_mics.txt")
	ledger, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, ledger.Append(nil))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "empty append must not create the file")
}
