package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryoem-tools/relion-agent/internal/class2d"
	"github.com/cryoem-tools/relion-agent/internal/job"
	"github.com/cryoem-tools/relion-agent/internal/logging"
)

var sortClassesCmd = &cobra.Command{
	Use:   "sort-classes",
	Short: "Select good 2D classes from alignment metrics",
	Long: `Selects Class2D classes holding at least 5% of the particles with rotation and
translation accuracy better than 10. No external tool is needed, e.g.:
    relion_agent sort-classes --o External/best_cl2d --in_parts Class2D/job004/run_it020_data.star`,
	RunE: runSortClasses,
}

var (
	sortInParts         string
	sortOutDir          string
	sortThreads         int
	sortPipelineControl string
	sortVerbose         bool
)

func init() {
	sortClassesCmd.Flags().StringVar(&sortInParts, "in_parts", "", "Input *_data.star STAR file from a Class2D job (required)")
	sortClassesCmd.Flags().StringVar(&sortOutDir, "o", "", "Output directory name (required)")
	sortClassesCmd.Flags().IntVar(&sortThreads, "j", 1, "Not used here. Required by RELION")
	sortClassesCmd.Flags().StringVar(&sortPipelineControl, "pipeline_control", "", "Not used here. Required by RELION")
	sortClassesCmd.Flags().BoolVar(&sortVerbose, "verbose", false, "Print detailed job summaries")

	rootCmd.AddCommand(sortClassesCmd)
}

func runSortClasses(cmd *cobra.Command, _ []string) error {
	if sortInParts == "" || sortOutDir == "" {
		return fmt.Errorf("--in_parts and --o are required params")
	}
	if !strings.HasSuffix(sortInParts, "_data.star") {
		return fmt.Errorf("--in_parts must point to a *_data.star file")
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}

	paths := job.Paths{Project: projectDir, Dir: sortOutDir}
	j := &class2d.SortJob{
		Paths:   paths,
		Log:     logging.NewJobLogger("sort-classes"),
		Printer: verbosePrinter(sortVerbose),

		InParts: sortInParts,
	}
	return job.Run(paths, func() error { return j.Run(cmd.Context()) })
}
