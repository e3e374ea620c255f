package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/creds"
	"github.com/stackd-io/stackd/internal/pipeline"
)

var runCredsDir string

var runCmd = &cobra.Command{
	Use:   "run [pipeline-file]",
	Short: "Execute a pipeline",
	Long: `Runs the stages of a pipeline definition strictly in order.
The first failing stage terminates the run; completed stages are not
rolled back.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipelineCmd,
}

func init() {
	runCmd.Flags().StringVar(&runCredsDir, "credentials-dir", "", "Directory holding credential files")
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	file := pipeline.DefaultFile
	if len(args) == 1 {
		file = args[0]
	}

	p, err := pipeline.Load(file)
	if err != nil {
		return err
	}

	store := creds.NewStore(runCredsDir)
	runner := pipeline.NewRunner(pipeline.NewStageExecutor(store, p.Environment))

	if err := runner.Run(cmd.Context(), p); err != nil {
		status := runner.Status()
		fmt.Printf("\nPipeline %q failed at stage %d (%s).\n", p.Name, status.Stage, status.StageName)
		return err
	}

	fmt.Printf("\nPipeline %q succeeded: %d stage(s) completed.\n", p.Name, len(p.Stages))
	return nil
}
