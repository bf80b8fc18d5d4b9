// Package class2d implements the 2D class-selection jobs: cinderella-based
// prediction and the metric-threshold sorter. Both read the model table of a
// Class2D job, decide which classes to keep and write the filtered particle
// set plus the selection backup RELION's display uses.
package class2d

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/star"
)

// trainingParticlesFile is the filtered particle set left in the job
// directory for downstream training jobs.
const trainingParticlesFile = "particles_for_training.star"

// backupSelectionFile is written at the project root so the RELION display
// shows the selection.
const backupSelectionFile = "backup_selection.star"

// ErrNoGoodClasses marks a run that selected nothing; the job fails so the
// pipeline does not continue with an empty particle set.
var ErrNoGoodClasses = errors.New("no good classes found")

// modelStarPath maps a Class2D _data.star path to its companion _model.star.
func modelStarPath(inParts string) string {
	return strings.ReplaceAll(inParts, "_data.star", "_model.star")
}

// classID extracts the class number from a reference-image cell of the form
// "000024@Class2D/job004/run_it025_classes.mrcs".
func classID(referenceImage string) (int, error) {
	num, _, found := strings.Cut(referenceImage, "@")
	if !found {
		return 0, fmt.Errorf("reference image %q has no class prefix", referenceImage)
	}
	id, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("reference image %q: %w", referenceImage, err)
	}
	return id, nil
}

// classCount returns the class number of the table's last row, which is the
// total number of classes in the run.
func classCount(modelClasses *star.Table) (int, error) {
	if modelClasses.Len() == 0 {
		return 0, errors.New("model_classes table has no rows")
	}
	ref, err := modelClasses.Row(modelClasses.Len() - 1).Str("rlnReferenceImage")
	if err != nil {
		return 0, err
	}
	return classID(ref)
}

// writeSelection emits both selection outputs: the filtered particles file
// in the job directory (optics section plus the kept particle rows) and the
// 0/1 selection backup at the project root. Returns the kept particle count.
func writeSelection(paths job.Paths, inParts string, good map[int]bool, totalClasses int) (int, error) {
	optics, err := star.Read(paths.InProject(inParts), "optics")
	if err != nil {
		return 0, fmt.Errorf("read optics table: %w", err)
	}
	particles, err := star.Read(paths.InProject(inParts), "particles")
	if err != nil {
		return 0, fmt.Errorf("read particles table: %w", err)
	}

	kept := star.NewTable(particles.Columns()...)
	for i := 0; i < particles.Len(); i++ {
		row := particles.Row(i)
		cls, err := row.Int("rlnClassNumber")
		if err != nil {
			return 0, err
		}
		if good[cls] {
			if err := kept.AppendRow(row.Cells()...); err != nil {
				return 0, err
			}
		}
	}

	if err := star.WriteFile(paths.InJob(trainingParticlesFile),
		star.WriteBlock{Table: optics, Section: "optics"},
		star.WriteBlock{Table: kept, Section: "particles"},
	); err != nil {
		return 0, err
	}

	selection := star.NewTable("rlnSelected")
	for i := 1; i <= totalClasses; i++ {
		cell := "0"
		if good[i] {
			cell = "1"
		}
		if err := selection.AppendRow(cell); err != nil {
			return 0, err
		}
	}
	if err := star.WriteFile(paths.InProject(backupSelectionFile),
		star.WriteBlock{Table: selection}); err != nil {
		return 0, err
	}
	return kept.Len(), nil
}

func sortedIDs(good map[int]bool, total int) []int {
	ids := make([]int, 0, len(good))
	for i := 1; i <= total; i++ {
		if good[i] {
			ids = append(ids, i)
		}
	}
	return ids
}
