// Package topaz implements the particle-picking job: it stages unprocessed
// micrographs for topaz, runs the preprocess/extract/convert/split chain,
// moves the resulting coordinate files into the layout RELION expects, and
// keeps the processed-micrographs ledger that makes repeated invocations
// incremental.
package topaz

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryoem-tools/relion-agent/internal/config"
	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/observability"
	"github.com/cryoem-tools/relion-agent/internal/params"
	"github.com/cryoem-tools/relion-agent/internal/runner"
	"github.com/cryoem-tools/relion-agent/internal/star"
)

const (
	ledgerFile       = "done_mics.txt"
	coordSuffix      = "_topaz.star"
	preprocessedDir  = "preprocessed"
	outputDir        = "output"
	coordsSuffixFile = "coords_suffix_topaz.star"
	outputNodesFile  = "RELION_OUTPUT_NODES.star"
	paramsFile       = "output_for_relion.star"
	manualPickFile   = ".gui_manualpickjob.star"
)

// Job holds one picking invocation.
type Job struct {
	Paths    job.Paths
	Settings *config.Settings
	Runner   runner.Runner
	Log      zerolog.Logger
	Printer  *observability.Printer

	// InMics is the project-relative micrographs star file.
	InMics string
	// Diameter is the particle diameter in Angstrom.
	Diameter int
	// Threshold is the picking score threshold.
	Threshold float64
	// Model is a project-relative trained model path, or "None" for the
	// tool's built-in model.
	Model string
	// GPU selects the device passed to topaz extract.
	GPU string
	// Threads and Workers are passed through to the tool; the agent itself
	// stays single-threaded.
	Threads int
	Workers int
}

// workItem is one micrograph awaiting picking: its job-relative key (the
// path with the originating JobType/jobXXX prefix stripped) and the
// coordinate file it must produce.
type workItem struct {
	key      string
	coordRel string
}

// Run executes the picking job core inside job.Run.
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	optics, err := star.Read(j.Paths.InProject(j.InMics), "optics")
	if err != nil {
		return fmt.Errorf("read optics table: %w", err)
	}
	if optics.Len() == 0 {
		return &star.ParseError{Path: j.InMics, Line: 0, Message: "optics table has no rows"}
	}
	angpix, err := optics.Row(0).Float("rlnMicrographPixelSize")
	if err != nil {
		return err
	}

	micTable, err := star.Read(j.Paths.InProject(j.InMics), "micrographs")
	if err != nil {
		return fmt.Errorf("read micrographs table: %w", err)
	}
	micNames, err := micTable.ColumnValues("rlnMicrographName")
	if err != nil {
		return err
	}
	if len(micNames) == 0 {
		j.Log.Info().Msg("micrographs table is empty, nothing to do")
		return nil
	}

	scale := params.DownscaleFactor(j.Diameter, angpix)
	j.Log.Info().Int("scale", scale).Int("diameter", j.Diameter).
		Msgf("using downscale factor %d for %d A particle", scale, j.Diameter)

	inputJob, ext, err := splitInputJob(micNames[0])
	if err != nil {
		return err
	}

	ledger, err := job.OpenLedger(j.Paths.InJob(ledgerFile))
	if err != nil {
		return err
	}

	work, err := collectWork(micNames, ledger, ext)
	if err != nil {
		return err
	}
	if len(work) == 0 {
		j.Log.Info().Msg("all micrographs picked, nothing to do")
		return nil
	}

	micDirs, err := j.stage(inputJob, work)
	if err != nil {
		return err
	}
	if err := job.EnsureDir(j.Paths.InJob(outputDir)); err != nil {
		return err
	}

	script := j.composeCommands(scale, angpix, ext, micDirs)
	j.Log.Info().Str("command", script).Msg("running topaz")
	j.Printer.PrintCommands(strings.Split(script, " && "))
	if err := j.Runner.Run(ctx, j.Paths.InJob(), script); err != nil {
		return err
	}

	if err := j.collectResults(ledger, work); err != nil {
		return err
	}
	if err := j.writeOutputs(angpix); err != nil {
		return err
	}

	j.Log.Info().Str("duration", job.FormatDuration(time.Since(start))).Msg("job finished")
	return nil
}

// splitInputJob derives the originating job prefix ("JobType/jobXXX") and
// the micrograph file extension from the first micrograph path.
func splitInputJob(name string) (inputJob, ext string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("micrograph path %q is not job-namespaced (want JobType/jobXXX/...)", name)
	}
	return path.Join(parts[0], parts[1]), path.Ext(name), nil
}

// collectWork builds the ordered work set: job-relative micrograph keys not
// yet in the ledger, each paired with its target coordinate file name.
// Duplicate keys keep their first occurrence; a row without the job-namespaced
// prefix is an error, never a silent skip.
func collectWork(micNames []string, ledger *job.Ledger, ext string) ([]workItem, error) {
	var work []workItem
	seen := make(map[string]struct{})
	for _, name := range micNames {
		parts := strings.SplitN(name, "/", 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("micrograph path %q is not job-namespaced (want JobType/jobXXX/...)", name)
		}
		key := parts[2]
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if ledger.Contains(key) {
			continue
		}
		work = append(work, workItem{
			key:      key,
			coordRel: strings.TrimSuffix(key, ext) + coordSuffix,
		})
	}
	return work, nil
}

// stage creates the per-micrograph directories lazily and links each work
// item from the originating job into the job directory. Returns the staged
// directory keys in first-seen order.
func (j *Job) stage(inputJob string, work []workItem) ([]string, error) {
	var micDirs []string
	seenDirs := make(map[string]struct{})
	for _, item := range work {
		dir := path.Dir(item.key)
		if _, ok := seenDirs[dir]; !ok {
			seenDirs[dir] = struct{}{}
			micDirs = append(micDirs, dir)
			if dir != "." {
				if err := job.EnsureDir(j.Paths.InJob(dir)); err != nil {
					return nil, err
				}
			}
		}
		if err := job.Stage(j.Paths.InProject(inputJob, item.key), j.Paths.InJob(item.key)); err != nil {
			return nil, err
		}
	}
	return micDirs, nil
}

// composeCommands builds the four-stage topaz chain run as one shell line.
func (j *Job) composeCommands(scale int, angpix float64, ext string, micDirs []string) string {
	tool := j.Settings.Topaz.Executable

	preprocess := runner.New(tool).Arg("preprocess").
		Flag("--scale", scale).
		Flag("--destdir", preprocessedDir).
		Flag("--num-workers", j.Workers).
		Flag("--num-threads", j.Threads)
	for _, dir := range micDirs {
		// Skip directories that ended up with no staged micrographs.
		matches, _ := filepath.Glob(j.Paths.InJob(dir, "*"+ext))
		if len(matches) > 0 {
			preprocess.Arg(dir + "/*" + ext)
		}
	}

	extract := runner.New(tool).Arg("extract").
		Flag("--radius", params.ExtractionRadius(j.Diameter, angpix, scale)).
		Flag("--up-scale", scale).
		Flag("--threshold", j.Threshold).
		Flag("--output", outputDir+"/coords.txt").
		Flag("--num-workers", j.Workers).
		Flag("--num-threads", j.Threads).
		Flag("--device", j.GPU)
	if j.Model != "None" && j.Model != "" {
		extract.Flag("--model", j.Paths.InProject(j.Model))
	}
	extract.Arg(preprocessedDir + "/*.mrc")

	convert := runner.New(tool).Arg("convert").
		Flag("-t", 0).
		Flag("-o", outputDir+"/coords.star").
		Arg(outputDir + "/coords.txt")

	split := runner.New(tool).Arg("split").
		Flag("--output", outputDir).
		Arg(outputDir + "/coords.star")

	return runner.Chain(j.Settings.Topaz.Activate,
		preprocess.String(), extract.String(), convert.String(), split.String())
}

// collectResults records the processed keys in the ledger, removes the
// staged links and moves each produced coordinate file to the name RELION
// will look for. The ledger is only updated after the tool run succeeded.
func (j *Job) collectResults(ledger *job.Ledger, work []workItem) error {
	if err := os.RemoveAll(j.Paths.InJob(preprocessedDir)); err != nil {
		return fmt.Errorf("clean %s: %w", preprocessedDir, err)
	}

	keys := make([]string, 0, len(work))
	for _, item := range work {
		keys = append(keys, item.key)
	}
	if err := ledger.Append(keys); err != nil {
		return err
	}

	for _, item := range work {
		if err := os.Remove(j.Paths.InJob(item.key)); err != nil {
			return fmt.Errorf("remove staged link %s: %w", item.key, err)
		}
		base := path.Base(item.key)
		produced := j.Paths.InJob(outputDir, strings.TrimSuffix(base, path.Ext(base))+".star")
		if _, err := os.Stat(produced); err != nil {
			continue
		}
		if err := os.Rename(produced, j.Paths.InJob(item.coordRel)); err != nil {
			return fmt.Errorf("move coordinates for %s: %w", item.key, err)
		}
	}

	if err := os.RemoveAll(j.Paths.InJob(outputDir)); err != nil {
		return fmt.Errorf("clean %s: %w", outputDir, err)
	}
	return nil
}

// writeOutputs emits the files RELION contractually requires: the coordinate
// suffix file, the output-nodes table, and (first successful run only) the
// suggested extraction parameters plus the manual-pick display config.
func (j *Job) writeOutputs(angpix float64) error {
	suffixPath := j.Paths.InJob(coordsSuffixFile)
	if err := os.WriteFile(suffixPath, []byte(j.InMics), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", suffixPath, err)
	}

	nodes := star.NewTable("rlnPipeLineNodeName", "rlnPipeLineNodeType")
	if err := nodes.AppendRow(path.Join(j.Paths.Dir, coordsSuffixFile), "2"); err != nil {
		return err
	}
	if err := star.WriteFile(j.Paths.InJob(outputNodesFile),
		star.WriteBlock{Table: nodes, Section: "output_nodes"}); err != nil {
		return err
	}

	paramsPath := j.Paths.InJob(paramsFile)
	if _, err := os.Stat(paramsPath); err == nil {
		return nil
	}

	boxSize := params.SuggestedBoxSize(j.Diameter, angpix)
	boxSizeSmall := params.SuggestedBinnedBoxSize(boxSize, angpix)
	j.Log.Info().
		Int("diameter", j.Diameter).
		Int("box_size", boxSize).
		Int("box_size_binned", boxSizeSmall).
		Msg("suggested extraction parameters")
	j.Printer.PrintPickerParams(j.Diameter, boxSize, boxSizeSmall)

	picker := star.NewTable("rlnParticleDiameter", "rlnOriginalImageSize", "rlnImageSize")
	if err := picker.AppendRow(
		fmt.Sprintf("%d", j.Diameter),
		fmt.Sprintf("%d", boxSize),
		fmt.Sprintf("%d", boxSizeSmall)); err != nil {
		return err
	}
	if err := star.WriteFile(paramsPath,
		star.WriteBlock{Table: picker, Section: "picker"}); err != nil {
		return err
	}

	manualPick := j.Paths.InProject(manualPickFile)
	if err := os.WriteFile(manualPick, []byte(fmt.Sprintf(manualPickTemplate, j.Diameter)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", manualPick, err)
	}
	return nil
}
