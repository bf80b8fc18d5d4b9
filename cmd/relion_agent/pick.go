package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryoem-tools/relion-agent/internal/config"
	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/logging"
	"github.com/cryoem-tools/relion-agent/internal/runner"
	"github.com/cryoem-tools/relion-agent/internal/topaz"
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Pick particles with topaz",
	Long: `Runs topaz picking as a RELION external job. Repeated invocations only process
micrographs not yet recorded in the job's ledger. Run it in the RELION project directory, e.g.:
    relion_agent pick --o External/topaz_picking --in_mics CtfFind/job004/micrographs_ctf.star --diam 120`,
	RunE: runPick,
}

var (
	pickInMics          string
	pickOutDir          string
	pickThreads         int
	pickWorkers         int
	pickDiameter        int
	pickThreshold       float64
	pickModel           string
	pickGPU             string
	pickPipelineControl string
	pickSettingsPath    string
	pickVerbose         bool
)

func init() {
	pickCmd.Flags().StringVar(&pickInMics, "in_mics", "", "Input micrographs STAR file (required)")
	pickCmd.Flags().StringVar(&pickOutDir, "o", "", "Output directory name (required)")
	pickCmd.Flags().IntVar(&pickThreads, "j", 1, "Number of CPU threads")
	pickCmd.Flags().IntVar(&pickWorkers, "workers", 1, "Number of worker processes")
	pickCmd.Flags().IntVar(&pickDiameter, "diam", 120, "Particle diameter in A")
	pickCmd.Flags().Float64Var(&pickThreshold, "threshold", 0, "Threshold for picking")
	pickCmd.Flags().StringVar(&pickModel, "model", "None", "topaz training model (if not specified the tool default is used)")
	pickCmd.Flags().StringVar(&pickGPU, "gpu", "0", "GPU to use")
	pickCmd.Flags().StringVar(&pickPipelineControl, "pipeline_control", "", "Not used here. Required by RELION")
	pickCmd.Flags().StringVar(&pickSettingsPath, "settings", "", "Path to the agent settings JSON file")
	pickCmd.Flags().BoolVar(&pickVerbose, "verbose", false, "Print detailed job summaries")

	rootCmd.AddCommand(pickCmd)
}

func runPick(cmd *cobra.Command, _ []string) error {
	if pickInMics == "" || pickOutDir == "" {
		return fmt.Errorf("--in_mics and --o are required params")
	}
	if !strings.HasSuffix(pickInMics, ".star") {
		return fmt.Errorf("--in_mics must point to a micrographs star file")
	}

	settings, err := config.Resolve(pickSettingsPath)
	if err != nil {
		return err
	}
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}

	paths := job.Paths{Project: projectDir, Dir: pickOutDir}
	j := &topaz.Job{
		Paths:    paths,
		Settings: settings,
		Runner:   runner.ShellRunner{},
		Log:      logging.NewJobLogger("pick"),
		Printer:  verbosePrinter(pickVerbose),

		InMics:    pickInMics,
		Diameter:  pickDiameter,
		Threshold: pickThreshold,
		Model:     pickModel,
		GPU:       pickGPU,
		Threads:   pickThreads,
		Workers:   pickWorkers,
	}
	return job.Run(paths, func() error { return j.Run(cmd.Context()) })
}
