package job

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func markerExists(t *testing.T, dir, name string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func TestRun_SuccessWritesSuccessMarker(t *testing.T) {
	paths := Paths{Project: t.TempDir(), Dir: "External/job001"}

	err := Run(paths, func() error { return nil })
	require.NoError(t, err)

	assert.True(t, markerExists(t, paths.InJob(), SuccessMarker))
	assert.False(t, markerExists(t, paths.InJob(), FailureMarker))
}

func TestRun_FailureWritesFailureMarkerAndPropagates(t *testing.T) {
	paths := Paths{Project: t.TempDir(), Dir: "External/job001"}
	boom := errors.New("tool exploded")

	err := Run(paths, func() error { return boom })
	require.ErrorIs(t, err, boom)

	assert.True(t, markerExists(t, paths.InJob(), FailureMarker))
	assert.False(t, markerExists(t, paths.InJob(), SuccessMarker))
}

func TestRun_ClearsStaleMarkers(t *testing.T) {
	paths := Paths{Project: t.TempDir(), Dir: "External/job001"}

	// A previous run left a success marker; this run fails.
	require.NoError(t, os.MkdirAll(paths.InJob(), 0o755))
	require.NoError(t, os.WriteFile(paths.InJob(SuccessMarker), nil, 0o644))

	err := Run(paths, func() error { return errors.New("fail") })
	require.Error(t, err)

	assert.False(t, markerExists(t, paths.InJob(), SuccessMarker))
	assert.True(t, markerExists(t, paths.InJob(), FailureMarker))
}

func TestPaths_Join(t *testing.T) {
	paths := Paths{Project: "/proj", Dir: "External/job001"}
	assert.Equal(t, "/proj/CtfFind/job004/mics.star", paths.InProject("CtfFind/job004/mics.star"))
	assert.Equal(t, "/proj/External/job001/done_mics.txt", paths.InJob("done_mics.txt"))
}

func TestPaths_AbsoluteElementPassesThrough(t *testing.T) {
	paths := Paths{Project: "/proj", Dir: "External/job001"}
	// Shared installs hand out absolute model paths; joining must not nest
	// them under the project.
	assert.Equal(t, "/public/EM/topaz/model.sav", paths.InProject("/public/EM/topaz/model.sav"))
	assert.Equal(t, "/scratch/filtered", paths.InProject("sub", "/scratch/filtered"))
}

func TestRun_UnwritableMarkerKeepsCoreError(t *testing.T) {
	paths := Paths{Project: t.TempDir(), Dir: "External/job001"}
	require.NoError(t, os.MkdirAll(paths.InJob(), 0o555))
	boom := errors.New("tool exploded")

	err := Run(paths, func() error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestStageIfAbsent_Idempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mrc")
	dst := filepath.Join(dir, "dst.mrc")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	require.NoError(t, StageIfAbsent(src, dst))
	require.NoError(t, StageIfAbsent(src, dst))

	target, err := os.Readlink(dst)
	require.NoError(t, err)
	assert.Equal(t, src, target)
}

func TestStage_FailsOnExistingLink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mrc")
	dst := filepath.Join(dir, "dst.mrc")

	require.NoError(t, Stage(src, dst))
	assert.Error(t, Stage(src, dst))
}
