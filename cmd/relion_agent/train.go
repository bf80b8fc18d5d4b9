package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryoem-tools/relion-agent/internal/config"
	"github.com/cryoem-tools/relion-agent/internal/cryolo"
	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/logging"
	"github.com/cryoem-tools/relion-agent/internal/observability"
	"github.com/cryoem-tools/relion-agent/internal/runner"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune a crYOLO picking model on selected particles",
	Long: `Runs crYOLO fine-tune training as a RELION external job. Run it in the RELION project directory, e.g.:
    relion_agent train --o External/cryolo_training --in_parts Select/job004/particles.star --n 20`,
	RunE: runTrain,
}

var (
	trainInParts         string
	trainOutDir          string
	trainModel           string
	trainGPU             string
	trainNMics           int
	trainThreads         int
	trainPipelineControl string
	trainSettingsPath    string
	trainVerbose         bool
)

func init() {
	trainCmd.Flags().StringVar(&trainInParts, "in_parts", "", "Input particles STAR file (required)")
	trainCmd.Flags().StringVar(&trainOutDir, "o", "", "Output directory name (required)")
	trainCmd.Flags().StringVar(&trainModel, "model", "", "crYOLO training model (if not specified the general model from the settings is used)")
	trainCmd.Flags().StringVar(&trainGPU, "gpu", "0", `GPUs to use (e.g. "0,1,2,3")`)
	trainCmd.Flags().IntVar(&trainNMics, "n", 20, "Select only N most populated micrographs")
	trainCmd.Flags().IntVar(&trainThreads, "j", 1, "Not used here. Required by RELION")
	trainCmd.Flags().StringVar(&trainPipelineControl, "pipeline_control", "", "Not used here. Required by RELION")
	trainCmd.Flags().StringVar(&trainSettingsPath, "settings", "", "Path to the agent settings JSON file")
	trainCmd.Flags().BoolVar(&trainVerbose, "verbose", false, "Print detailed job summaries")

	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	if trainInParts == "" || trainOutDir == "" {
		return fmt.Errorf("--in_parts and --o are required params")
	}
	if !strings.HasSuffix(trainInParts, ".star") {
		return fmt.Errorf("--in_parts must point to a particles star file")
	}

	settings, err := config.Resolve(trainSettingsPath)
	if err != nil {
		return err
	}
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}

	paths := job.Paths{Project: projectDir, Dir: trainOutDir}
	j := &cryolo.Job{
		Paths:    paths,
		Settings: settings,
		Runner:   runner.ShellRunner{},
		Log:      logging.NewJobLogger("train"),
		Printer:  verbosePrinter(trainVerbose),

		InParts: trainInParts,
		Model:   trainModel,
		GPUs:    trainGPU,
		NMics:   trainNMics,
	}
	return job.Run(paths, func() error { return j.Run(cmd.Context()) })
}

// verbosePrinter returns a stdout printer in verbose mode and nil otherwise;
// Printer methods are nil-safe.
func verbosePrinter(verbose bool) *observability.Printer {
	if !verbose {
		return nil
	}
	return observability.NewPrinter(os.Stdout)
}
