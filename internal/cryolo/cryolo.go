// Package cryolo implements the crYOLO fine-tune training job: it selects
// the most populated micrographs from a particles table, stages them with
// per-micrograph coordinate files in the layout crYOLO expects, generates the
// training configuration, runs the tool and emits the pipeline descriptor
// RELION requires from an external job.
package cryolo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryoem-tools/relion-agent/internal/config"
	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/observability"
	"github.com/cryoem-tools/relion-agent/internal/params"
	"github.com/cryoem-tools/relion-agent/internal/runner"
	"github.com/cryoem-tools/relion-agent/internal/schemas"
	"github.com/cryoem-tools/relion-agent/internal/star"
)

const (
	configFile   = "config_cryolo.json"
	tunedModel   = "fine_tuned_model.h5"
	imageFolder  = "train_image"
	annotFolder  = "train_annot"
	pipelineFile = "job_pipeline.star"
)

// Job holds one training invocation. Fields mirror the CLI flags plus the
// resolved settings and injected runner.
type Job struct {
	Paths    job.Paths
	Settings *config.Settings
	Runner   runner.Runner
	Log      zerolog.Logger
	Printer  *observability.Printer

	// InParts is the project-relative particles star file.
	InParts string
	// Model overrides the pretrained model from the settings file.
	Model string
	// GPUs is the comma-separated GPU id list.
	GPUs string
	// NMics caps staging to the N most populated micrographs; 0 disables
	// the cap.
	NMics int
}

// micrograph groups the particle coordinates picked on one micrograph.
type micrograph struct {
	name   string
	coords [][2]string
}

// Run executes the training job core. The caller wraps it in job.Run, which
// owns the outcome markers.
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	model := j.Model
	if model != "" {
		model = j.Paths.InProject(model)
	} else {
		model = j.Settings.Cryolo.GeneralModel
	}
	if model == "" {
		return fmt.Errorf("no pretrained model: pass --model or set cryolo.general_model in the settings file")
	}

	filteredDir := j.Paths.InJob("filtered_tmp")
	if j.Settings.ScratchDir != "" {
		filteredDir = filepath.Join(j.Settings.ScratchDir, "filtered_tmp")
	}

	if err := job.EnsureDir(j.Paths.InJob(imageFolder)); err != nil {
		return err
	}
	if err := job.EnsureDir(j.Paths.InJob(annotFolder)); err != nil {
		return err
	}

	optics, err := star.Read(j.Paths.InProject(j.InParts), "optics")
	if err != nil {
		return fmt.Errorf("read optics table: %w", err)
	}
	if optics.Len() == 0 {
		return &star.ParseError{Path: j.InParts, Line: 0, Message: "optics table has no rows"}
	}
	boxBinned, err := optics.Row(0).Int("rlnImageSize")
	if err != nil {
		return err
	}
	imagePixelSize, err := optics.Row(0).Float("rlnImagePixelSize")
	if err != nil {
		return err
	}
	originalPixelSize, err := optics.Row(0).Float("rlnMicrographOriginalPixelSize")
	if err != nil {
		return err
	}
	boxSize := params.UnbinnedBoxSize(imagePixelSize, originalPixelSize, boxBinned)
	j.Log.Info().Int("box_size", boxSize).Msg("using unbinned box size")

	if err := j.writeConfig(boxSize, model, filteredDir); err != nil {
		return err
	}

	// The original script abandoned the job without a marker when the
	// particles table was unreadable; here every abort marks failure.
	parts, err := star.Read(j.Paths.InProject(j.InParts), "particles")
	if err != nil {
		return fmt.Errorf("read particles table from %s: %w", j.InParts, err)
	}

	staged, err := j.stage(parts)
	if err != nil {
		return err
	}
	j.Log.Info().Int("staged", staged).Msg("staged most populated micrographs")
	j.Printer.PrintTrainingSetup(boxSize, staged)

	train := runner.New(j.Settings.Cryolo.Executable).
		Flag("--conf", configFile).
		Flag("--gpu", strings.ReplaceAll(j.GPUs, ",", " ")).
		Flag("--warmup", 0).
		Flag("--fine_tune", "").
		Flag("--cleanup", "")
	script := runner.Chain(j.Settings.Cryolo.Activate, train.String())
	j.Log.Info().Str("command", script).Msg("running crYOLO")
	j.Printer.PrintCommands([]string{script})
	if err := j.Runner.Run(ctx, j.Paths.InJob(), script); err != nil {
		return err
	}

	if err := j.writePipeline(); err != nil {
		return err
	}

	j.Log.Info().Str("duration", job.FormatDuration(time.Since(start))).Msg("job finished")
	return nil
}

// writeConfig generates config_cryolo.json, validated against the embedded
// schema before it reaches disk.
func (j *Job) writeConfig(boxSize int, model, filteredDir string) error {
	var filter []any
	if j.Settings.Cryolo.JanniModel != "" {
		filter = []any{j.Settings.Cryolo.JanniModel, 24, 3, filteredDir}
	} else {
		filter = []any{0.1, filteredDir}
	}

	cfg := map[string]any{
		"model": map[string]any{
			"architecture":      "PhosaurusNet",
			"input_size":        1024,
			"max_box_per_image": 600,
			"anchors":           []int{boxSize, boxSize},
			"filter":            filter,
		},
		"train": map[string]any{
			"train_image_folder": imageFolder,
			"train_annot_folder": annotFolder,
			"train_times":        10,
			"batch_size":         6,
			"learning_rate":      0.0001,
			"nb_epoch":           200,
			"object_scale":       5.0,
			"no_object_scale":    1.0,
			"coord_scale":        1.0,
			"class_scale":        1.0,
			"pretrained_weights": model,
			"saved_weights_name": j.Paths.InJob(tunedModel),
			"debug":              true,
		},
		"valid": map[string]any{
			"valid_image_folder": "",
			"valid_annot_folder": "",
			"valid_times":        1,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encode crYOLO config: %w", err)
	}
	if err := schemas.ValidateCryoloConfig(data); err != nil {
		return fmt.Errorf("generated crYOLO config is invalid: %w", err)
	}
	dst := j.Paths.InJob(configFile)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// stage groups particles by micrograph, ranks micrographs by descending
// particle count and links the top NMics into the training layout, writing a
// coordinate star file beside each link. Returns the number staged.
func (j *Job) stage(parts *star.Table) (int, error) {
	var mics []*micrograph
	index := make(map[string]*micrograph)
	for i := 0; i < parts.Len(); i++ {
		row := parts.Row(i)
		name, err := row.Str("rlnMicrographName")
		if err != nil {
			return 0, err
		}
		x, err := row.Str("rlnCoordinateX")
		if err != nil {
			return 0, err
		}
		y, err := row.Str("rlnCoordinateY")
		if err != nil {
			return 0, err
		}
		m, ok := index[name]
		if !ok {
			m = &micrograph{name: name}
			index[name] = m
			mics = append(mics, m)
		}
		m.coords = append(m.coords, [2]string{x, y})
	}

	sort.SliceStable(mics, func(a, b int) bool {
		return len(mics[a].coords) > len(mics[b].coords)
	})

	staged := 0
	for i, m := range mics {
		if j.NMics > 0 && i >= j.NMics {
			break
		}
		base := path.Base(m.name)
		if err := job.StageIfAbsent(j.Paths.InProject(m.name), j.Paths.InJob(imageFolder, base)); err != nil {
			return staged, err
		}

		coordName := strings.TrimSuffix(base, path.Ext(base)) + ".star"
		coords := star.NewTable("rlnCoordinateX", "rlnCoordinateY")
		for _, c := range m.coords {
			if err := coords.AppendRow(c[0], c[1]); err != nil {
				return staged, err
			}
		}
		if err := star.WriteFile(j.Paths.InJob(annotFolder, coordName), star.WriteBlock{Table: coords}); err != nil {
			return staged, err
		}
		staged++
	}
	return staged, nil
}

// writePipeline emits the minimal job_pipeline.star descriptor RELION reads
// back: counters, one process node, one input node and one edge.
func (j *Job) writePipeline() error {
	general := star.NewTable("rlnPipeLineJobCounter")
	if err := general.AppendRow("2"); err != nil {
		return err
	}
	processes := star.NewTable("rlnPipeLineProcessName", "rlnPipeLineProcessAlias",
		"rlnPipeLineProcessTypeLabel", "rlnPipeLineProcessStatusLabel")
	if err := processes.AppendRow(j.Paths.Dir, "None", "relion.external", "Running"); err != nil {
		return err
	}
	nodes := star.NewTable("rlnPipeLineNodeName", "rlnPipeLineNodeTypeLabel")
	if err := nodes.AppendRow(j.InParts, "ParticlesData.star.relion"); err != nil {
		return err
	}
	edges := star.NewTable("rlnPipeLineEdgeFromNode", "rlnPipeLineEdgeProcess")
	if err := edges.AppendRow(j.InParts, j.Paths.Dir); err != nil {
		return err
	}

	return star.WriteFile(j.Paths.InJob(pipelineFile),
		star.WriteBlock{Table: general, Section: "pipeline_general", SingleRow: true},
		star.WriteBlock{Table: processes, Section: "pipeline_processes"},
		star.WriteBlock{Table: nodes, Section: "pipeline_nodes"},
		star.WriteBlock{Table: edges, Section: "pipeline_input_edges"},
	)
}
