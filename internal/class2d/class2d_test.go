package class2d

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryoem-tools/relion-agent/internal/config"
	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/runner"
	"github.com/cryoem-tools/relion-agent/internal/star"
)

const inParts = "Class2D/job004/run_it020_data.star"

const dataStar = `
# version 30001

data_optics

loop_
_rlnOpticsGroup #1
_rlnImagePixelSize #2
1 1.244000

data_particles

loop_
_rlnMicrographName #1
_rlnCoordinateX #2
_rlnClassNumber #3
MotionCorr/job002/Movies/mic_a.mrc 100.0 1
MotionCorr/job002/Movies/mic_a.mrc 200.0 2
MotionCorr/job002/Movies/mic_b.mrc 300.0 1
MotionCorr/job002/Movies/mic_b.mrc 400.0 3
MotionCorr/job002/Movies/mic_c.mrc 500.0 4
MotionCorr/job002/Movies/mic_c.mrc 600.0 1
`

// Class 1 passes every metric; 2 is under-populated, 3 aligns too poorly in
// rotation, 4 in translation.
const modelStar = `
# version 30001

data_model_general

loop_
_rlnReferenceDimensionality #1
2

data_model_classes

loop_
_rlnReferenceImage #1
_rlnClassDistribution #2
_rlnAccuracyRotations #3
_rlnAccuracyTranslationsAngst #4
000001@Class2D/job004/run_it020_classes.mrcs 0.400000 2.100000 3.000000
000002@Class2D/job004/run_it020_classes.mrcs 0.010000 2.500000 3.200000
000003@Class2D/job004/run_it020_classes.mrcs 0.300000 15.000000 3.100000
000004@Class2D/job004/run_it020_classes.mrcs 0.290000 5.000000 12.000000
`

type fakeRunner struct {
	calls   []string
	dirs    []string
	perform func(dir string) error
}

func (f *fakeRunner) Run(_ context.Context, dir, script string) error {
	f.calls = append(f.calls, script)
	f.dirs = append(f.dirs, dir)
	if f.perform != nil {
		return f.perform(dir)
	}
	return nil
}

func setupProject(t *testing.T) job.Paths {
	t.Helper()
	project := t.TempDir()
	paths := job.Paths{Project: project, Dir: "External/class_selection"}

	require.NoError(t, os.MkdirAll(paths.InProject("Class2D/job004"), 0o755))
	require.NoError(t, os.WriteFile(paths.InProject(inParts), []byte(dataStar), 0o644))
	require.NoError(t, os.WriteFile(
		paths.InProject("Class2D/job004/run_it020_model.star"), []byte(modelStar), 0o644))
	return paths
}

func readSelectionOutputs(t *testing.T, paths job.Paths) (kept *star.Table, backup []string) {
	t.Helper()
	kept, err := star.Read(paths.InJob(trainingParticlesFile), "particles")
	require.NoError(t, err)
	backupTable, err := star.Read(paths.InProject(backupSelectionFile), "")
	require.NoError(t, err)
	backup, err = backupTable.ColumnValues("rlnSelected")
	require.NoError(t, err)
	return kept, backup
}

func TestSortRun_SelectsByMetrics(t *testing.T) {
	paths := setupProject(t)
	j := &SortJob{Paths: paths, Log: zerolog.Nop(), InParts: inParts}

	require.NoError(t, job.Run(paths, func() error { return j.Run(context.Background()) }))

	kept, backup := readSelectionOutputs(t, paths)
	assert.Equal(t, 3, kept.Len())
	for i := 0; i < kept.Len(); i++ {
		cls, err := kept.Row(i).Int("rlnClassNumber")
		require.NoError(t, err)
		assert.Equal(t, 1, cls)
	}
	assert.Equal(t, []string{"1", "0", "0", "0"}, backup)

	// The optics section is carried over so the output is a valid particle
	// set on its own.
	optics, err := star.Read(paths.InJob(trainingParticlesFile), "optics")
	require.NoError(t, err)
	assert.Equal(t, 1, optics.Len())

	_, statErr := os.Stat(paths.InJob(job.SuccessMarker))
	assert.NoError(t, statErr)
}

func TestSortRun_NoGoodClasses(t *testing.T) {
	paths := setupProject(t)
	// Every class under-populated.
	require.NoError(t, os.WriteFile(paths.InProject("Class2D/job004/run_it020_model.star"), []byte(`
data_model_classes

loop_
_rlnReferenceImage #1
_rlnClassDistribution #2
_rlnAccuracyRotations #3
_rlnAccuracyTranslationsAngst #4
000001@Class2D/job004/run_it020_classes.mrcs 0.010000 2.000000 3.000000
000002@Class2D/job004/run_it020_classes.mrcs 0.020000 2.000000 3.000000
`), 0o644))

	j := &SortJob{Paths: paths, Log: zerolog.Nop(), InParts: inParts}
	err := job.Run(paths, func() error { return j.Run(context.Background()) })
	require.ErrorIs(t, err, ErrNoGoodClasses)

	_, statErr := os.Stat(paths.InJob(job.FailureMarker))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(paths.InJob(trainingParticlesFile))
	assert.True(t, os.IsNotExist(statErr))
}

func newSelectJob(paths job.Paths, r runner.Runner) *SelectJob {
	settings := config.Defaults()
	settings.Cinderella.GeneralModel = "/models/cinderella_general.h5"
	return &SelectJob{
		Paths:    paths,
		Settings: &settings,
		Runner:   r,
		Log:      zerolog.Nop(),

		InParts:   inParts,
		Threshold: 0.7,
		Model:     "None",
		GPUs:      "0",
	}
}

// writeConfidence simulates the prediction tool: scores ordered by descending
// confidence, zero-based class indices.
func writeConfidence(t *testing.T, lines string) func(dir string) error {
	t.Helper()
	return func(dir string) error {
		if err := os.MkdirAll(filepath.Join(dir, "output"), 0o755); err != nil {
			return err
		}
		return os.WriteFile(
			filepath.Join(dir, "output", "run_it020_classes_index_confidence.txt"),
			[]byte(lines), 0o644)
	}
}

func TestSelectRun_KeepsConfidentClasses(t *testing.T) {
	paths := setupProject(t)
	fake := &fakeRunner{perform: writeConfidence(t, "0 0.950000\n2 0.800000\n1 0.400000\n3 0.300000\n")}
	j := newSelectJob(paths, fake)

	require.NoError(t, job.Run(paths, func() error { return j.Run(context.Background()) }))

	// Indices 0 and 2 score above 0.7, so classes 1 and 3 are kept.
	kept, backup := readSelectionOutputs(t, paths)
	assert.Equal(t, 4, kept.Len())
	assert.Equal(t, []string{"1", "0", "1", "0"}, backup)
}

func TestSelectRun_PredictionCommand(t *testing.T) {
	paths := setupProject(t)
	fake := &fakeRunner{perform: writeConfidence(t, "0 0.950000\n")}
	j := newSelectJob(paths, fake)
	j.Settings.Cinderella.Activate = "conda activate cinderella"

	require.NoError(t, job.Run(paths, func() error { return j.Run(context.Background()) }))

	require.Len(t, fake.calls, 1)
	assert.Equal(t,
		"conda activate cinderella && sp_cinderella_predict.py"+
			" -i "+paths.InProject("Class2D/job004/run_it020_classes.mrcs")+
			" -o output -w /models/cinderella_general.h5 --gpu 0 -t 0.7",
		fake.calls[0])
	assert.Equal(t, paths.InJob(), fake.dirs[0])
}

func TestSelectRun_ModelFlagOverridesSettings(t *testing.T) {
	paths := setupProject(t)
	fake := &fakeRunner{perform: writeConfidence(t, "0 0.950000\n")}
	j := newSelectJob(paths, fake)
	j.Model = "External/job007/my_model.h5"

	require.NoError(t, job.Run(paths, func() error { return j.Run(context.Background()) }))
	assert.Contains(t, fake.calls[0], "-w "+paths.InProject("External/job007/my_model.h5"))
}

func TestSelectRun_AbsoluteModelFlagPassesThrough(t *testing.T) {
	paths := setupProject(t)
	fake := &fakeRunner{perform: writeConfidence(t, "0 0.950000\n")}
	j := newSelectJob(paths, fake)
	j.Model = "/public/EM/cinderella/model.h5"

	require.NoError(t, job.Run(paths, func() error { return j.Run(context.Background()) }))
	assert.Contains(t, fake.calls[0], "-w /public/EM/cinderella/model.h5")
}

func TestSelectRun_NothingAboveThreshold(t *testing.T) {
	paths := setupProject(t)
	fake := &fakeRunner{perform: writeConfidence(t, "0 0.500000\n1 0.300000\n")}
	j := newSelectJob(paths, fake)

	err := job.Run(paths, func() error { return j.Run(context.Background()) })
	require.ErrorIs(t, err, ErrNoGoodClasses)
	_, statErr := os.Stat(paths.InJob(job.FailureMarker))
	assert.NoError(t, statErr)
}

func TestSelectRun_ToolFailure(t *testing.T) {
	paths := setupProject(t)
	fake := &fakeRunner{perform: func(string) error { return &runner.ExitError{Code: 3} }}
	j := newSelectJob(paths, fake)

	err := job.Run(paths, func() error { return j.Run(context.Background()) })
	var exitErr *runner.ExitError
	require.ErrorAs(t, err, &exitErr)
	_, statErr := os.Stat(paths.InJob(job.FailureMarker))
	assert.NoError(t, statErr)
}

func TestClassID(t *testing.T) {
	id, err := classID("000024@Class2D/job004/run_it025_classes.mrcs")
	require.NoError(t, err)
	assert.Equal(t, 24, id)

	_, err = classID("run_it025_classes.mrcs")
	assert.Error(t, err)
}

func TestModelStarPath(t *testing.T) {
	assert.Equal(t, "Class2D/job004/run_it020_model.star",
		modelStarPath("Class2D/job004/run_it020_data.star"))
}
