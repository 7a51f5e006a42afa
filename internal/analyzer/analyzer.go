// Package analyzer runs one Container Handle in the analyzer role
// against a remote repository and returns a finite ordered sequence of
// tasks.
package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentfarm/agentfarm/internal/agentinvoke"
	"github.com/agentfarm/agentfarm/internal/config"
	"github.com/agentfarm/agentfarm/internal/container"
	"github.com/agentfarm/agentfarm/internal/parser"
	"github.com/agentfarm/agentfarm/internal/task"
)

const (
	containerAnalyzerPrompt = "/app/codeAnalyzerPrompt.txt"
	containerTasksFile      = "/app/tasks.json"
	containerNetrc          = "/root/.netrc"
	containerGitCredentials = "/root/.git-credentials"
)

// Analyzer runs the analyzer role end to end.
type Analyzer struct {
	cfg     *config.Config
	starter container.StarterFunc
	log     zerolog.Logger
}

// New builds an Analyzer. starter is injected so tests can supply a
// fake container without a Docker daemon.
func New(cfg *config.Config, starter container.StarterFunc, log zerolog.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, starter: starter, log: log.With().Str("component", "analyzer").Logger()}
}

// Run executes the analyzer algorithm against gitURL and returns the
// derived task list. vcsCredentialPath may be empty; if set but
// missing on disk, the absence is logged and the run continues.
func (a *Analyzer) Run(ctx context.Context, gitURL, promptText, vcsCredentialPath string) ([]task.Task, error) {
	handle, err := a.starter(ctx, container.StartConfig{
		Image:      a.cfg.BaseImage,
		NamePrefix: "analyzer",
		PullPolicy: container.PullIfNotPresent,
		MemoryMB:   a.cfg.MemoryMB,
		CPUCores:   a.cfg.CPUCores,
		Proxy: container.ProxyEnv{
			HTTPProxy:  a.cfg.Proxy.HTTPProxy,
			HTTPSProxy: a.cfg.Proxy.HTTPSProxy,
			NoProxy:    a.cfg.Proxy.NoProxy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", container.ErrContainerStart, err)
	}
	defer func() {
		if shutdownErr := handle.Shutdown(context.Background()); shutdownErr != nil {
			a.log.Warn().Err(shutdownErr).Msg("failed to shut down analyzer container")
		}
	}()

	a.removeExistingCredentials(ctx, handle)
	a.copyCredentials(ctx, handle, vcsCredentialPath)

	if err := a.copyPrompt(ctx, handle, promptText); err != nil {
		return nil, fmt.Errorf("staging analyzer prompt: %w", err)
	}

	cmds, err := agentinvoke.BuildCommands(agentinvoke.Request{
		Config:     a.cfg,
		Role:       agentinvoke.RoleAnalyzer,
		GitURL:     gitURL,
		UseSSH:     a.cfg.UseSSHRemote,
		Credential: a.cfg.Credentials[a.cfg.AgentFamily],
	})
	if err != nil {
		return nil, fmt.Errorf("building analyzer commands: %w", err)
	}

	timeout := a.cfg.ContainerTimeout()
	for i, cmd := range cmds {
		result, err := handle.ExecStreaming(ctx, []string{"/bin/sh", "-c", cmd}, timeout, a.logLine("stdout"), a.logLine("stderr"))
		if err != nil {
			if result != nil && result.TimedOut {
				return nil, fmt.Errorf("%w: step %d/%d", ErrAgentTimeout, i+1, len(cmds))
			}
			return nil, fmt.Errorf("running analyzer step %d/%d: %w", i+1, len(cmds), err)
		}
		if !result.Success() {
			return nil, fmt.Errorf("analyzer step %d/%d exited %d: %s", i+1, len(cmds), result.ExitCode, result.Combined)
		}
	}

	descriptors, err := a.readTasks(ctx, handle)
	if err != nil {
		return nil, err
	}

	return validateAndAssignIDs(descriptors, a.cfg.MinTasks, a.cfg.MaxTasks)
}

func (a *Analyzer) logLine(stream string) func(string) {
	return func(line string) {
		a.log.Debug().Str("stream", stream).Msg(line)
	}
}

func (a *Analyzer) removeExistingCredentials(ctx context.Context, handle container.HandleAPI) {
	_, _ = handle.ExecBlocking(ctx, []string{"/bin/sh", "-c", fmt.Sprintf("rm -f %s %s", containerNetrc, containerGitCredentials)}, 10*time.Second)
}

func (a *Analyzer) copyCredentials(ctx context.Context, handle container.HandleAPI, localPath string) {
	if localPath == "" {
		return
	}
	if _, err := os.Stat(localPath); err != nil {
		a.log.Info().Str("path", localPath).Msg("no host vcs credentials found, continuing without them")
		return
	}
	if err := handle.CopyInFile(ctx, localPath, containerGitCredentials); err != nil {
		a.log.Warn().Err(err).Msg("failed to copy host vcs credentials into container")
	}
}

func (a *Analyzer) copyPrompt(ctx context.Context, handle container.HandleAPI, promptText string) error {
	path, cleanup, err := writeTempFile("codeAnalyzerPrompt-*.txt", promptText)
	if err != nil {
		return err
	}
	defer cleanup()
	return handle.CopyInFile(ctx, path, containerAnalyzerPrompt)
}

func (a *Analyzer) readTasks(ctx context.Context, handle container.HandleAPI) ([]task.AgentTaskDescriptor, error) {
	localPath := filepath.Join(os.TempDir(), fmt.Sprintf("agentfarm-tasks-%s.json", handle.ID()))
	defer os.Remove(localPath)

	if err := handle.CopyOutFile(ctx, containerTasksFile, localPath); err != nil {
		return nil, fmt.Errorf("reading %s from container: %w", containerTasksFile, err)
	}

	raw, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("reading staged tasks file: %w", err)
	}

	var descriptors []task.AgentTaskDescriptor
	if err := parser.ExtractArray(string(raw), &descriptors); err != nil {
		return nil, fmt.Errorf("parsing tasks.json: %w", err)
	}
	return descriptors, nil
}

func validateAndAssignIDs(descriptors []task.AgentTaskDescriptor, minTasks, maxTasks int) ([]task.Task, error) {
	if len(descriptors) < minTasks || len(descriptors) > maxTasks {
		return nil, fmt.Errorf("%w: got %d tasks, want between %d and %d", ErrTaskValidation, len(descriptors), minTasks, maxTasks)
	}

	tasks := make([]task.Task, 0, len(descriptors))
	now := time.Now()
	for i, d := range descriptors {
		if d.Title == "" || d.Description == "" {
			return nil, fmt.Errorf("%w: entry %d missing title or description", ErrTaskValidation, i)
		}
		if d.Priority < 1 || d.Priority > 5 {
			return nil, fmt.Errorf("%w: entry %d has invalid priority %d", ErrTaskValidation, i, d.Priority)
		}

		id := d.ID
		if id == "" {
			id = task.GenerateID()
		}

		tasks = append(tasks, task.Task{
			ID:             id,
			Title:          d.Title,
			Description:    d.Description,
			Priority:       d.Priority,
			FollowingTasks: d.FollowingTasks,
			CreatedAt:      now,
		})
	}

	return tasks, nil
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
