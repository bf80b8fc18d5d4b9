package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryoem-tools/relion-agent/internal/class2d"
	"github.com/cryoem-tools/relion-agent/internal/config"
	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/logging"
	"github.com/cryoem-tools/relion-agent/internal/runner"
)

var selectClassesCmd = &cobra.Command{
	Use:   "select-classes",
	Short: "Select good 2D classes with cinderella",
	Long: `Runs cinderella class prediction as a RELION external job. Run it in the RELION project directory, e.g.:
    relion_agent select-classes --o External/cinderella_bestclasses2d --in_parts Class2D/job004/run_it025_data.star --threshold 0.7`,
	RunE: runSelectClasses,
}

var (
	selectInParts         string
	selectOutDir          string
	selectThreshold       float64
	selectModel           string
	selectGPU             string
	selectThreads         int
	selectPipelineControl string
	selectSettingsPath    string
	selectVerbose         bool
)

func init() {
	selectClassesCmd.Flags().StringVar(&selectInParts, "in_parts", "", "Input data STAR file from a Class2D job (required)")
	selectClassesCmd.Flags().StringVar(&selectOutDir, "o", "", "Output directory name (required)")
	selectClassesCmd.Flags().Float64Var(&selectThreshold, "threshold", 0.7, "Confidence threshold")
	selectClassesCmd.Flags().StringVar(&selectModel, "model", "None", "cinderella prediction model (if not specified the general model from the settings is used)")
	selectClassesCmd.Flags().StringVar(&selectGPU, "gpu", "0", `GPUs to use (e.g. "0 1 2 3")`)
	selectClassesCmd.Flags().IntVar(&selectThreads, "j", 1, "Not used here. Required by RELION")
	selectClassesCmd.Flags().StringVar(&selectPipelineControl, "pipeline_control", "", "Not used here. Required by RELION")
	selectClassesCmd.Flags().StringVar(&selectSettingsPath, "settings", "", "Path to the agent settings JSON file")
	selectClassesCmd.Flags().BoolVar(&selectVerbose, "verbose", false, "Print detailed job summaries")

	rootCmd.AddCommand(selectClassesCmd)
}

func runSelectClasses(cmd *cobra.Command, _ []string) error {
	if selectInParts == "" || selectOutDir == "" {
		return fmt.Errorf("--in_parts and --o are required params")
	}
	if !strings.HasSuffix(selectInParts, "_data.star") {
		return fmt.Errorf("--in_parts must point to a data STAR file")
	}

	settings, err := config.Resolve(selectSettingsPath)
	if err != nil {
		return err
	}
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}

	paths := job.Paths{Project: projectDir, Dir: selectOutDir}
	j := &class2d.SelectJob{
		Paths:    paths,
		Settings: settings,
		Runner:   runner.ShellRunner{},
		Log:      logging.NewJobLogger("select-classes"),
		Printer:  verbosePrinter(selectVerbose),

		InParts:   selectInParts,
		Threshold: selectThreshold,
		Model:     selectModel,
		GPUs:      selectGPU,
	}
	return job.Run(paths, func() error { return j.Run(cmd.Context()) })
}
