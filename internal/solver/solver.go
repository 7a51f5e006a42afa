// Package solver runs one Container Handle in the solver role against
// a single Task and produces its TaskResult, including any patch the
// agent's diff harness produced. Each task gets its own disposable
// container.
package solver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentfarm/agentfarm/internal/agentinvoke"
	"github.com/agentfarm/agentfarm/internal/config"
	"github.com/agentfarm/agentfarm/internal/container"
	"github.com/agentfarm/agentfarm/internal/parser"
	"github.com/agentfarm/agentfarm/internal/task"
)

const (
	containerFinalReport    = "/app/finalReport.json"
	containerDiffOutput     = "/app/git_diff.txt"
	containerSolverPrompt   = "/app/taskSolverPrompt.txt"
	containerNetrc          = "/root/.netrc"
	containerGitCredentials = "/root/.git-credentials"
)

// Solver owns one Container Handle for the duration of one Task.
type Solver struct {
	cfg     *config.Config
	starter container.StarterFunc
	log     zerolog.Logger
}

// New builds a Solver. starter is injected so tests can supply a fake
// container without a Docker daemon.
func New(cfg *config.Config, starter container.StarterFunc, log zerolog.Logger) *Solver {
	return &Solver{cfg: cfg, starter: starter, log: log.With().Str("component", "solver").Logger()}
}

// Solve runs the full solver protocol for t against gitURL, returning a
// terminal TaskResult. It never returns an error for agent-side
// failures; those are folded into the returned result's Status per the
// Scheduler's failure-isolation contract. An error return is reserved
// for the container never having started at all.
func (s *Solver) Solve(ctx context.Context, t task.Task, gitURL, promptText, vcsCredentialPath string) (*task.TaskResult, error) {
	result := task.NotStarted(t)

	name := containerName(t.ID)
	handle, err := s.starter(ctx, container.StartConfig{
		Image:      s.cfg.BaseImage,
		NamePrefix: name,
		PullPolicy: container.PullIfNotPresent,
		MemoryMB:   s.cfg.MemoryMB,
		CPUCores:   s.cfg.CPUCores,
		Proxy: container.ProxyEnv{
			HTTPProxy:  s.cfg.Proxy.HTTPProxy,
			HTTPSProxy: s.cfg.Proxy.HTTPSProxy,
			NoProxy:    s.cfg.Proxy.NoProxy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", container.ErrContainerStart, err)
	}
	defer func() {
		if shutdownErr := handle.Shutdown(context.Background()); shutdownErr != nil {
			s.log.Warn().Err(shutdownErr).Str("task_id", t.ID).Msg("failed to shut down solver container")
		}
	}()

	s.removeExistingCredentials(ctx, handle)
	s.copyCredentials(ctx, handle, vcsCredentialPath)

	if err := s.copyPrompt(ctx, handle, promptText); err != nil {
		result.MarkTerminal(task.StatusFailure, fmt.Sprintf("staging solver prompt: %v", err))
		return result, nil
	}

	cmds, err := agentinvoke.BuildCommands(agentinvoke.Request{
		Config:     s.cfg,
		Role:       agentinvoke.RoleSolver,
		GitURL:     gitURL,
		UseSSH:     s.cfg.UseSSHRemote,
		Credential: s.cfg.Credentials[s.cfg.AgentFamily],
	})
	if err != nil {
		result.MarkTerminal(task.StatusFailure, fmt.Sprintf("building solver commands: %v", err))
		return result, nil
	}

	timeout := s.cfg.ContainerTimeout()
	provisioning, invocation := cmds[:len(cmds)-1], cmds[len(cmds)-1]

	for i, cmd := range provisioning {
		execResult, err := handle.ExecStreaming(ctx, []string{"/bin/sh", "-c", cmd}, timeout, s.logLine(t.ID, "stdout"), s.logLine(t.ID, "stderr"))
		if err != nil || execResult == nil || !execResult.Success() {
			result.MarkTerminal(task.StatusFailure, fmt.Sprintf("%v: provisioning step %d/%d failed", ErrSolverEnvironment, i+1, len(provisioning)))
			return result, nil
		}
	}

	execResult, err := handle.ExecStreaming(ctx, []string{"/bin/sh", "-c", invocation}, timeout, s.logLine(t.ID, "stdout"), s.logLine(t.ID, "stderr"))
	if err != nil {
		if execResult != nil && execResult.TimedOut {
			result.Cancelled = ctx.Err() != nil
			result.MarkTerminal(task.StatusFailure, "agent invocation timed out")
			return result, nil
		}
		result.MarkTerminal(task.StatusFailure, fmt.Sprintf("agent invocation failed: %v", err))
		return result, nil
	}
	if !execResult.Success() {
		result.MarkTerminal(task.StatusFailure, fmt.Sprintf("agent invocation exited %d: %s", execResult.ExitCode, execResult.Combined))
		return result, nil
	}

	report, err := s.readReport(ctx, handle)
	if err != nil {
		result.MarkTerminal(task.StatusFailure, fmt.Sprintf("%v: %v", ErrReportParse, err))
		return result, nil
	}

	status, ok := agentReportStatus(report.Status)
	if !ok {
		result.MarkTerminal(task.StatusFailure, fmt.Sprintf("agent reported unknown status %q", report.Status))
		return result, nil
	}

	result.MarkTerminal(status, report.Report)

	if status == task.StatusSuccess {
		patch, err := s.readPatch(ctx, handle)
		if err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("failed to read patch file, treating as no-op")
		} else {
			result.Patch = patch
		}
	}

	return result, nil
}

func (s *Solver) logLine(taskID, stream string) func(string) {
	return func(line string) {
		s.log.Debug().Str("task_id", taskID).Str("stream", stream).Msg(line)
	}
}

func (s *Solver) removeExistingCredentials(ctx context.Context, handle container.HandleAPI) {
	_, _ = handle.ExecBlocking(ctx, []string{"/bin/sh", "-c", fmt.Sprintf("rm -f %s %s", containerNetrc, containerGitCredentials)}, 10*time.Second)
}

func (s *Solver) copyCredentials(ctx context.Context, handle container.HandleAPI, localPath string) {
	if localPath == "" {
		return
	}
	if _, err := os.Stat(localPath); err != nil {
		s.log.Info().Str("path", localPath).Msg("no host vcs credentials found, continuing without them")
		return
	}
	if err := handle.CopyInFile(ctx, localPath, containerGitCredentials); err != nil {
		s.log.Warn().Err(err).Msg("failed to copy host vcs credentials into container")
	}
}

func (s *Solver) copyPrompt(ctx context.Context, handle container.HandleAPI, promptText string) error {
	path, cleanup, err := writeTempFile("taskSolverPrompt-*.txt", promptText)
	if err != nil {
		return err
	}
	defer cleanup()
	return handle.CopyInFile(ctx, path, containerSolverPrompt)
}

func (s *Solver) readReport(ctx context.Context, handle container.HandleAPI) (*task.AgentReport, error) {
	localPath := filepath.Join(os.TempDir(), fmt.Sprintf("agentfarm-report-%s.json", handle.ID()))
	defer os.Remove(localPath)

	if err := handle.CopyOutFile(ctx, containerFinalReport, localPath); err != nil {
		return nil, fmt.Errorf("reading %s from container: %w", containerFinalReport, err)
	}

	raw, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("reading staged report: %w", err)
	}

	var report task.AgentReport
	if err := parser.ExtractObject(string(raw), &report); err != nil {
		return nil, fmt.Errorf("parsing finalReport.json: %w", err)
	}
	return &report, nil
}

// readPatch reads the diff harness's output file. An absent file (the
// agent never ran the harness) is treated as an empty patch rather than
// an error, matching the "empty/absent patch with status=success is a
// permitted no-op" rule.
func (s *Solver) readPatch(ctx context.Context, handle container.HandleAPI) (string, error) {
	localPath := filepath.Join(os.TempDir(), fmt.Sprintf("agentfarm-patch-%s.diff", handle.ID()))
	defer os.Remove(localPath)

	if err := handle.CopyOutFile(ctx, containerDiffOutput, localPath); err != nil {
		return "", nil
	}

	raw, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// agentReportStatus maps the agent report wire values ("success",
// "skipped", "failed") onto task.Status. The wire value uses "failed"
// where task.Status uses "failure", so this is not a plain cast.
func agentReportStatus(wire string) (task.Status, bool) {
	switch wire {
	case "success":
		return task.StatusSuccess, true
	case "skipped":
		return task.StatusSkipped, true
	case "failed":
		return task.StatusFailure, true
	default:
		return "", false
	}
}

func containerName(taskID string) string {
	return fmt.Sprintf("agentfarm-solver-%s", taskID)
}

func writeTempFile(pattern, content string) (string, func(), error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", func() {}, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", func() {}, fmt.Errorf("closing temp file: %w", err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
