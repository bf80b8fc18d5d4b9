package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_FlagOrderPreserved(t *testing.T) {
	cmd := New("topaz").Arg("preprocess").
		Flag("--scale", 4).
		Flag("--destdir", "preprocessed").
		Flag("--num-workers", 1).
		Flag("--num-threads", 1).
		Arg("Movies/*.mrc")

	assert.Equal(t,
		"topaz preprocess --scale 4 --destdir preprocessed --num-workers 1 --num-threads 1 Movies/*.mrc",
		cmd.String())
}

func TestCommand_EmptyValueEmitsBareFlag(t *testing.T) {
	cmd := New("cryolo_train.py").
		Flag("--warmup", 0).
		Flag("--fine_tune", "").
		Flag("--cleanup", "")

	assert.Equal(t, "cryolo_train.py --warmup 0 --fine_tune --cleanup", cmd.String())
}

func TestCommand_FloatValues(t *testing.T) {
	cmd := New("topaz").Arg("extract").Flag("--threshold", 0.5)
	assert.Equal(t, "topaz extract --threshold 0.5", cmd.String())
}

func TestChain_JoinsWithSequentialAnd(t *testing.T) {
	assert.Equal(t, "a && b && c", Chain("a", "b", "c"))
}

func TestChain_SkipsEmptyActivationPrefix(t *testing.T) {
	assert.Equal(t, "topaz preprocess", Chain("", "topaz preprocess"))
	assert.Equal(t,
		"source activate.sh && topaz preprocess",
		Chain("source activate.sh", "topaz preprocess"))
}

func TestShellRunner_RunsInDirectory(t *testing.T) {
	dir := t.TempDir()
	var out strings.Builder

	err := ShellRunner{Stdout: &out, Stderr: &out}.Run(context.Background(), dir, "touch ran.txt && pwd")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "ran.txt"))
	assert.NoError(t, statErr)
	assert.Contains(t, out.String(), filepath.Base(dir))
}

func TestShellRunner_NonZeroExitIsExitError(t *testing.T) {
	err := ShellRunner{}.Run(context.Background(), t.TempDir(), "exit 7")

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.Code)
	assert.Equal(t, "command failed with return code 7", exitErr.Error())
}

func TestShellRunner_ChainStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()

	err := ShellRunner{}.Run(context.Background(), dir, Chain("false", "touch should_not_exist.txt"))
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "should_not_exist.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
