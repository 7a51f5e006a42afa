// Package orchestrator is the linear driver wiring Analyzer, Scheduler,
// and Patch Committer into one run, and the sole owner of run-level
// cancellation.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentfarm/agentfarm/internal/analyzer"
	"github.com/agentfarm/agentfarm/internal/committer"
	"github.com/agentfarm/agentfarm/internal/config"
	"github.com/agentfarm/agentfarm/internal/container"
	"github.com/agentfarm/agentfarm/internal/scheduler"
	"github.com/agentfarm/agentfarm/internal/solver"
	"github.com/agentfarm/agentfarm/internal/task"
)

// PromptSet holds the raw prompt templates staged into every container.
// SolverPrompt is a function of the Task so the agent receives a
// task-specific prompt. When nil, Run falls back to defaultSolverPrompt.
type PromptSet struct {
	AnalyzerPrompt string
	SolverPrompt   func(task.Task) string
}

// SolverPromptFromTemplate builds a PromptSet.SolverPrompt function that
// substitutes the literal placeholders {{title}}, {{description}},
// {{workStyle}}, and {{codingStyle}} into templateText for each task.
func SolverPromptFromTemplate(templateText, workStyle, codingStyle string) func(task.Task) string {
	return func(t task.Task) string {
		out := templateText
		out = strings.ReplaceAll(out, "{{title}}", t.Title)
		out = strings.ReplaceAll(out, "{{description}}", t.Description)
		out = strings.ReplaceAll(out, "{{workStyle}}", workStyle)
		out = strings.ReplaceAll(out, "{{codingStyle}}", codingStyle)
		return out
	}
}

// Report is the run's final, persisted record.
type Report struct {
	RunID        string             `json:"runId"`
	GitURL       string             `json:"gitUrl"`
	StartedAt    time.Time          `json:"startedAt"`
	CompletedAt  time.Time          `json:"completedAt"`
	FailedStage  string             `json:"failedStage,omitempty"`
	FailureError string             `json:"failureError,omitempty"`
	Tasks        []task.TaskResult  `json:"tasks"`
	Summary      *committer.Summary `json:"summary,omitempty"`
}

// Orchestrator drives one end-to-end run.
type Orchestrator struct {
	cfg     *config.Config
	starter container.StarterFunc
	repoDir string
	log     zerolog.Logger
}

// New builds an Orchestrator bound to a host repository checkout at
// repoDir.
func New(cfg *config.Config, starter container.StarterFunc, repoDir string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, starter: starter, repoDir: repoDir, log: log.With().Str("component", "orchestrator").Logger()}
}

// RunOptions configures one invocation of Run.
type RunOptions struct {
	Prompts           PromptSet
	VCSCredentialPath string
	DryRun            bool
}

// Run executes Analyzer -> Scheduler -> Patch Committer, installs its
// own interrupt handling so Ctrl-C propagates cancellation to the
// Scheduler, and always writes a run report, even on abort.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := &Report{
		RunID:     newRunID(),
		StartedAt: time.Now(),
	}

	gitURL, err := o.deriveGitURL(ctx)
	if err != nil {
		report.FailedStage = "remote-resolution"
		report.FailureError = err.Error()
		o.finish(report)
		return report, err
	}
	report.GitURL = gitURL

	a := analyzer.New(o.cfg, o.starter, o.log)
	tasks, err := a.Run(ctx, gitURL, opts.Prompts.AnalyzerPrompt, opts.VCSCredentialPath)
	if err != nil {
		report.FailedStage = "analyzer"
		report.FailureError = err.Error()
		o.finish(report)
		return report, fmt.Errorf("analyzer: %w", err)
	}

	if opts.DryRun {
		for _, t := range tasks {
			report.Tasks = append(report.Tasks, *task.NotStarted(t))
		}
		o.finish(report)
		o.printSummary(report)
		return report, nil
	}

	s := solver.New(o.cfg, o.starter, o.log)

	solve := func(ctx context.Context, t task.Task) (*task.TaskResult, error) {
		promptText := defaultSolverPrompt(t, o.cfg.WorkStyle, o.cfg.CodingStyle)
		if opts.Prompts.SolverPrompt != nil {
			promptText = opts.Prompts.SolverPrompt(t)
		}
		return s.Solve(ctx, t, gitURL, promptText, opts.VCSCredentialPath)
	}

	sched := scheduler.New(o.cfg.MaxParallelContainers, solve, o.log)
	results := sched.Run(ctx, tasks)
	report.Tasks = results

	c, err := committer.New(ctx, o.repoDir, o.cfg.Recovery, o.log)
	if err != nil {
		report.FailedStage = "committer-init"
		report.FailureError = err.Error()
		o.finish(report)
		return report, fmt.Errorf("committer: %w", err)
	}

	summary, err := c.Commit(ctx, results)
	if err != nil {
		report.FailedStage = "committer"
		report.FailureError = err.Error()
		o.finish(report)
		return report, fmt.Errorf("committer: %w", err)
	}
	report.Summary = summary

	o.finish(report)
	o.printSummary(report)

	return report, nil
}

func (o *Orchestrator) finish(report *Report) {
	report.CompletedAt = time.Now()
	if path, err := writeReport(report); err != nil {
		o.log.Error().Err(err).Msg("failed to write run report")
	} else {
		o.log.Info().Str("path", path).Msg("run report written")
	}
}

func (o *Orchestrator) printSummary(report *Report) {
	if report.FailedStage != "" {
		fmt.Fprintf(os.Stderr, "agentfarm: run failed at stage %q: %s\n", report.FailedStage, report.FailureError)
		return
	}
	for _, r := range report.Tasks {
		fmt.Fprintf(os.Stderr, "%-24s %-10s %s\n", r.ID, r.Status, r.Title)
	}
	if report.Summary != nil {
		fmt.Fprintf(os.Stderr, "total=%d successful=%d failed=%d\n", report.Summary.Total, report.Summary.Successful, report.Summary.Failed)
	}
}

// deriveGitURL resolves the host repository's "origin" remote.
func (o *Orchestrator) deriveGitURL(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", o.repoDir, "remote", "get-url", "origin")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoGitRemote, err)
	}
	url := strings.TrimSpace(string(out))
	if url == "" {
		return "", ErrNoGitRemote
	}
	return url, nil
}

// newRunID builds a run identifier that sorts chronologically on disk:
// a millisecond timestamp followed by a short uuid for uniqueness
// within the same millisecond.
func newRunID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

func defaultSolverPrompt(t task.Task, workStyle, codingStyle string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\n", t.Title, t.Description)
	if workStyle != "" {
		fmt.Fprintf(&b, "Work style: %s\n", workStyle)
	}
	if codingStyle != "" {
		fmt.Fprintf(&b, "Coding style: %s\n", codingStyle)
	}
	return b.String()
}

// reportDir returns the OS-conventional state directory for run
// reports, preferring $XDG_STATE_HOME and falling back to
// ~/.agentfarm/logs when unset.
func reportDir() (string, error) {
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, "agentfarm", "runs"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".agentfarm", "logs"), nil
}

func writeReport(report *Report) (string, error) {
	dir, err := reportDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.json", report.RunID))
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing report file: %w", err)
	}
	return path, nil
}
