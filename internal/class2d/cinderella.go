package class2d

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryoem-tools/relion-agent/internal/config"
	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/observability"
	"github.com/cryoem-tools/relion-agent/internal/runner"
	"github.com/cryoem-tools/relion-agent/internal/star"
)

// SelectJob runs cinderella over the class-averages stack of a Class2D job
// and keeps the classes it scores above the confidence threshold.
type SelectJob struct {
	Paths    job.Paths
	Settings *config.Settings
	Runner   runner.Runner
	Log      zerolog.Logger
	Printer  *observability.Printer

	// InParts is the project-relative Class2D _data.star file.
	InParts string
	// Threshold is the confidence cutoff.
	Threshold float64
	// Model is a project-relative prediction model, or "None" for the
	// model named in the settings file.
	Model string
	// GPUs selects the devices passed through to the tool.
	GPUs string
}

// Run executes the cinderella selection core inside job.Run.
func (j *SelectJob) Run(ctx context.Context) error {
	start := time.Now()

	model := j.Settings.Cinderella.GeneralModel
	if j.Model != "None" && j.Model != "" {
		model = j.Paths.InProject(j.Model)
	}
	if model == "" {
		return fmt.Errorf("no prediction model: pass --model or set cinderella.general_model in the settings file")
	}

	modelClasses, err := star.Read(j.Paths.InProject(modelStarPath(j.InParts)), "model_classes")
	if err != nil {
		return fmt.Errorf("read model_classes table: %w", err)
	}
	total, err := classCount(modelClasses)
	if err != nil {
		return err
	}
	firstRef, err := modelClasses.Row(0).Str("rlnReferenceImage")
	if err != nil {
		return err
	}
	_, refStack, found := strings.Cut(firstRef, "@")
	if !found {
		return fmt.Errorf("reference image %q has no stack path", firstRef)
	}
	j.Log.Debug().Str("stack", refStack).Msg("found input class averages stack")

	predict := runner.New(j.Settings.Cinderella.Executable).
		Flag("-i", j.Paths.InProject(refStack)).
		Flag("-o", "output").
		Flag("-w", model).
		Flag("--gpu", j.GPUs).
		Flag("-t", j.Threshold)
	script := runner.Chain(j.Settings.Cinderella.Activate, predict.String())
	j.Log.Info().Str("command", script).Msg("running cinderella")
	j.Printer.PrintCommands([]string{script})
	if err := j.Runner.Run(ctx, j.Paths.InJob(), script); err != nil {
		return err
	}

	confidenceFile := path.Base(strings.ReplaceAll(refStack, ".mrcs", "_index_confidence.txt"))
	good, err := j.parseConfidence(j.Paths.InJob("output", confidenceFile))
	if err != nil {
		return err
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

// parseConfidence reads the tool's index/confidence listing. The file is
// ordered by descending confidence, so reading stops at the first score at
// or below the threshold. Indices are zero-based in the file, one-based in
// the returned set.
func (j *SelectJob) parseConfidence(path string) (map[int]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open confidence output: %w", err)
	}
	defer f.Close()

	good := make(map[int]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		confidence, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse confidence output %s: %w", path, err)
		}
		if confidence <= j.Threshold {
			break
		}
		index, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("parse confidence output %s: %w", path, err)
		}
		good[index+1] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read confidence output %s: %w", path, err)
	}
	return good, nil
}
