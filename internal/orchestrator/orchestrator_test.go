package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfarm/agentfarm/internal/config"
	"github.com/agentfarm/agentfarm/internal/container"
)

// fakeHandle serves both the analyzer and solver roles: CopyOutFile
// dispatches on the requested container path.
type fakeHandle struct {
	execCalls  int
	tasksJSON  string
	reportJSON string
	patchText  string
}

func (f *fakeHandle) ID() string { return "fake-id" }

func (f *fakeHandle) ExecBlocking(ctx context.Context, cmd []string, timeout time.Duration) (*container.CommandResult, error) {
	return &container.CommandResult{ExitCode: 0}, nil
}

func (f *fakeHandle) ExecStreaming(ctx context.Context, cmd []string, timeout time.Duration, onStdout, onStderr func(string)) (*container.CommandResult, error) {
	f.execCalls++
	return &container.CommandResult{ExitCode: 0}, nil
}

func (f *fakeHandle) CopyInFile(ctx context.Context, localPath, containerPath string) error {
	return nil
}

func (f *fakeHandle) CopyInTree(ctx context.Context, localDir, containerPath string) error {
	return nil
}

func (f *fakeHandle) CopyOutFile(ctx context.Context, containerPath, localPath string) error {
	switch containerPath {
	case "/app/tasks.json":
		return os.WriteFile(localPath, []byte(f.tasksJSON), 0o644)
	case "/app/finalReport.json":
		return os.WriteFile(localPath, []byte(f.reportJSON), 0o644)
	case "/app/git_diff.txt":
		return os.WriteFile(localPath, []byte(f.patchText), 0o644)
	}
	return os.WriteFile(localPath, []byte(""), 0o644)
}

func (f *fakeHandle) Shutdown(ctx context.Context) error { return nil }

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func initTestRepo(t *testing.T, remoteURL string) string {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-q")
	run("config", "user.email", "agentfarm@example.invalid")
	run("config", "user.name", "agentfarm")
	run("remote", "add", "origin", remoteURL)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial")

	return dir
}

func hermeticReportDir(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
}

func baseConfig() *config.Config {
	return &config.Config{
		AgentFamily:           config.AgentFamilyA,
		BaseImage:             "ubuntu:24.04",
		MaxContainers:         4,
		MaxParallelContainers: 2,
		MinTasks:              1,
		MaxTasks:              10,
	}
}

func TestOrchestratorDryRunSkipsSolverAndCommitter(t *testing.T) {
	hermeticReportDir(t)
	repoDir := initTestRepo(t, "https://example.invalid/acme/widget.git")

	fh := &fakeHandle{tasksJSON: `[{"id":"t1","title":"Add tests","description":"write tests","priority":2}]`}
	starter := func(ctx context.Context, c container.StartConfig) (container.HandleAPI, error) {
		return fh, nil
	}

	o := New(baseConfig(), starter, repoDir, zerolog.Nop())
	report, err := o.Run(context.Background(), RunOptions{
		Prompts: PromptSet{AnalyzerPrompt: "analyze"},
		DryRun:  true,
	})

	require.NoError(t, err)
	require.Len(t, report.Tasks, 1)
	assert.Equal(t, "t1", report.Tasks[0].ID)
	assert.Nil(t, report.Summary)
	assert.Empty(t, report.FailedStage)
}

func TestOrchestratorFullRunCommitsPatch(t *testing.T) {
	hermeticReportDir(t)
	repoDir := initTestRepo(t, "https://example.invalid/acme/widget.git")

	fh := &fakeHandle{
		tasksJSON:  `[{"id":"t1","title":"Add tests","description":"write tests","priority":2}]`,
		reportJSON: `{"taskId":"t1","title":"Add tests","description":"write tests","status":"success","report":"added tests"}`,
		patchText:  "diff --git a/NEW.txt b/NEW.txt\nnew file mode 100644\nindex 0000000..e69de29\n",
	}
	starter := func(ctx context.Context, c container.StartConfig) (container.HandleAPI, error) {
		return fh, nil
	}

	o := New(baseConfig(), starter, repoDir, zerolog.Nop())
	report, err := o.Run(context.Background(), RunOptions{
		Prompts: PromptSet{AnalyzerPrompt: "analyze"},
	})

	require.NoError(t, err)
	require.Len(t, report.Tasks, 1)
	require.NotNil(t, report.Summary)
	assert.Equal(t, 1, report.Summary.Total)
	assert.Empty(t, report.FailedStage)
}

func TestOrchestratorMissingRemoteFailsFast(t *testing.T) {
	hermeticReportDir(t)
	requireGit(t)
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "-q")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	starter := func(ctx context.Context, c container.StartConfig) (container.HandleAPI, error) {
		t.Fatal("container should never start when remote resolution fails")
		return nil, nil
	}

	o := New(baseConfig(), starter, dir, zerolog.Nop())
	report, err := o.Run(context.Background(), RunOptions{Prompts: PromptSet{AnalyzerPrompt: "analyze"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoGitRemote)
	assert.Equal(t, "remote-resolution", report.FailedStage)
}

func TestOrchestratorAnalyzerFailurePropagates(t *testing.T) {
	hermeticReportDir(t)
	repoDir := initTestRepo(t, "https://example.invalid/acme/widget.git")

	fh := &fakeHandle{tasksJSON: `not json`}
	starter := func(ctx context.Context, c container.StartConfig) (container.HandleAPI, error) {
		return fh, nil
	}

	o := New(baseConfig(), starter, repoDir, zerolog.Nop())
	report, err := o.Run(context.Background(), RunOptions{Prompts: PromptSet{AnalyzerPrompt: "analyze"}})

	require.Error(t, err)
	assert.Equal(t, "analyzer", report.FailedStage)
}
