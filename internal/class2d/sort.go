package class2d

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/observability"
	"github.com/cryoem-tools/relion-agent/internal/star"
)

// Class-quality thresholds for the metric sorter: a class is kept when it
// holds at least 5% of the particles and aligns to better than 10 degrees
// and 10 Angstrom.
const (
	minClassDistribution = 0.05
	maxRotationAccuracy  = 10.0
	maxShiftAccuracy     = 10.0
)

// SortJob selects good 2D classes from alignment metrics alone; no external
// tool is involved.
type SortJob struct {
	Paths   job.Paths
	Log     zerolog.Logger
	Printer *observability.Printer

	// InParts is the project-relative Class2D _data.star file.
	InParts string
}

// Run executes the sorter core inside job.Run.
func (j *SortJob) Run(_ context.Context) error {
	start := time.Now()

	modelClasses, err := star.Read(j.Paths.InProject(modelStarPath(j.InParts)), "model_classes")
	if err != nil {
		return fmt.Errorf("read model_classes table: %w", err)
	}
	total, err := classCount(modelClasses)
	if err != nil {
		return err
	}

	good := make(map[int]bool)
	for i := 0; i < modelClasses.Len(); i++ {
		row := modelClasses.Row(i)
		dist, err := row.Float("rlnClassDistribution")
		if err != nil {
			return err
		}
		rot, err := row.Float("rlnAccuracyRotations")
		if err != nil {
			return err
		}
		shift, err := row.Float("rlnAccuracyTranslationsAngst")
		if err != nil {
			return err
		}
		if dist >= minClassDistribution && rot < maxRotationAccuracy && shift < maxShiftAccuracy {
			ref, err := row.Str("rlnReferenceImage")
			if err != nil {
				return err
			}
			id, err := classID(ref)
			if err != nil {
				return err
			}
			good[id] = true
		}
	}
	if len(good) == 0 {
		return ErrNoGoodClasses
	}
	j.Log.Info().Ints("classes", sortedIDs(good, total)).Msg("classes selected")
	j.Printer.PrintClassSelection(sortedIDs(good, total), total)

	kept, err := writeSelection(j.Paths, j.InParts, good, total)
	if err != nil {
		return err
	}
	j.Log.Info().Int("particles", kept).Msg("wrote filtered particle set")

	j.Log.Info().Str("duration", job.FormatDuration(time.Since(start))).Msg("job finished")
	return nil
}
