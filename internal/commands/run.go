package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentfarm/agentfarm/internal/container"
	"github.com/agentfarm/agentfarm/internal/dockerhost"
	"github.com/agentfarm/agentfarm/internal/logging"
	"github.com/agentfarm/agentfarm/internal/orchestrator"
)

var (
	runRepoDir       string
	runAnalyzerFile  string
	runSolverFile    string
	runVCSCredential string
	runDryRun        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze a repository into tasks and run an agent against each one",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runRepoDir, "repo", ".", "path to the host repository checkout")
	runCmd.Flags().StringVar(&runAnalyzerFile, "analyzer-prompt", "", "path to the analyzer prompt file (required)")
	runCmd.Flags().StringVar(&runSolverFile, "solver-prompt", "", "path to the solver prompt template file")
	runCmd.Flags().StringVar(&runVCSCredential, "vcs-credentials", "", "path to host git credentials to copy into each container")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "run only the analyzer and print the derived task list")
	_ = runCmd.MarkFlagRequired("analyzer-prompt")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	analyzerPrompt, err := os.ReadFile(runAnalyzerFile)
	if err != nil {
		return fmt.Errorf("reading analyzer prompt: %w", err)
	}

	docker, err := dockerhost.New()
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", err)
	}
	starter := container.NewStarter(docker, log)

	o := orchestrator.New(cfg, starter, runRepoDir, log)

	opts := orchestrator.RunOptions{
		Prompts:           orchestrator.PromptSet{AnalyzerPrompt: string(analyzerPrompt)},
		VCSCredentialPath: runVCSCredential,
		DryRun:            runDryRun,
	}

	if runSolverFile != "" {
		solverTemplate, err := os.ReadFile(runSolverFile)
		if err != nil {
			return fmt.Errorf("reading solver prompt: %w", err)
		}
		opts.Prompts.SolverPrompt = orchestrator.SolverPromptFromTemplate(string(solverTemplate), cfg.WorkStyle, cfg.CodingStyle)
	}

	report, err := o.Run(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("run %s failed at stage %s: %w", report.RunID, report.FailedStage, err)
	}

	return nil
}
