package analyzer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfarm/agentfarm/internal/config"
	"github.com/agentfarm/agentfarm/internal/container"
)

type fakeHandle struct {
	execCalls     [][]string
	execErr       error
	execTimedOut  bool
	execExitCode  int
	copiedIn      map[string]string // containerPath -> local content read at copy time
	tasksJSON     string
	copyOutErr    error
	shutdownCalls int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{copiedIn: map[string]string{}}
}

func (f *fakeHandle) ID() string { return "fake-id" }

func (f *fakeHandle) ExecBlocking(ctx context.Context, cmd []string, timeout time.Duration) (*container.CommandResult, error) {
	return &container.CommandResult{ExitCode: 0}, nil
}

func (f *fakeHandle) ExecStreaming(ctx context.Context, cmd []string, timeout time.Duration, onStdout, onStderr func(string)) (*container.CommandResult, error) {
	f.execCalls = append(f.execCalls, cmd)
	if f.execErr != nil {
		return &container.CommandResult{TimedOut: f.execTimedOut}, f.execErr
	}
	return &container.CommandResult{ExitCode: f.execExitCode}, nil
}

func (f *fakeHandle) CopyInFile(ctx context.Context, localPath, containerPath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.copiedIn[containerPath] = string(content)
	return nil
}

func (f *fakeHandle) CopyInTree(ctx context.Context, localDir, containerPath string) error {
	return nil
}

func (f *fakeHandle) CopyOutFile(ctx context.Context, containerPath, localPath string) error {
	if f.copyOutErr != nil {
		return f.copyOutErr
	}
	return os.WriteFile(localPath, []byte(f.tasksJSON), 0o644)
}

func (f *fakeHandle) Shutdown(ctx context.Context) error {
	f.shutdownCalls++
	return nil
}

func testAnalyzer(t *testing.T, fh *fakeHandle, cfg *config.Config) *Analyzer {
	t.Helper()
	starter := func(ctx context.Context, c container.StartConfig) (container.HandleAPI, error) {
		return fh, nil
	}
	return New(cfg, starter, zerolog.Nop())
}

func baseConfig() *config.Config {
	return &config.Config{
		AgentFamily: config.AgentFamilyA,
		BaseImage:   "ubuntu:24.04",
		MinTasks:    1,
		MaxTasks:    10,
	}
}

func TestAnalyzerRunHappyPath(t *testing.T) {
	fh := newFakeHandle()
	fh.tasksJSON = `chatter before
[{"id":"t1","title":"Add tests","description":"write tests","priority":3}]
chatter after`

	a := testAnalyzer(t, fh, baseConfig())
	tasks, err := a.Run(context.Background(), "https://github.com/acme/widget", "analyze this repo", "")

	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, 1, fh.shutdownCalls)
}

func TestAnalyzerRunAssignsMissingID(t *testing.T) {
	fh := newFakeHandle()
	fh.tasksJSON = `[{"title":"Add tests","description":"write tests","priority":3}]`

	a := testAnalyzer(t, fh, baseConfig())
	tasks, err := a.Run(context.Background(), "https://github.com/acme/widget", "analyze", "")

	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.NotEmpty(t, tasks[0].ID)
}

func TestAnalyzerRunRejectsTooFewTasks(t *testing.T) {
	fh := newFakeHandle()
	fh.tasksJSON = `[]`

	cfg := baseConfig()
	cfg.MinTasks = 2

	a := testAnalyzer(t, fh, cfg)
	_, err := a.Run(context.Background(), "https://github.com/acme/widget", "analyze", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskValidation)
	assert.Equal(t, 1, fh.shutdownCalls, "container must be shut down even on validation failure")
}

func TestAnalyzerRunRejectsTooManyTasks(t *testing.T) {
	fh := newFakeHandle()
	fh.tasksJSON = `[{"id":"t1","title":"a","description":"d","priority":1},{"id":"t2","title":"b","description":"d","priority":1}]`

	cfg := baseConfig()
	cfg.MaxTasks = 1

	a := testAnalyzer(t, fh, cfg)
	_, err := a.Run(context.Background(), "https://github.com/acme/widget", "analyze", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskValidation)
}

func TestAnalyzerRunRejectsMissingFields(t *testing.T) {
	fh := newFakeHandle()
	fh.tasksJSON = `[{"id":"t1","title":"","description":"d","priority":1}]`

	a := testAnalyzer(t, fh, baseConfig())
	_, err := a.Run(context.Background(), "https://github.com/acme/widget", "analyze", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskValidation)
}

func TestAnalyzerRunFailsOnParseError(t *testing.T) {
	fh := newFakeHandle()
	fh.tasksJSON = `not json at all`

	a := testAnalyzer(t, fh, baseConfig())
	_, err := a.Run(context.Background(), "https://github.com/acme/widget", "analyze", "")

	require.Error(t, err)
	assert.Equal(t, 1, fh.shutdownCalls)
}

func TestAnalyzerRunPropagatesExecTimeout(t *testing.T) {
	fh := newFakeHandle()
	fh.execErr = context.DeadlineExceeded
	fh.execTimedOut = true

	a := testAnalyzer(t, fh, baseConfig())
	_, err := a.Run(context.Background(), "https://github.com/acme/widget", "analyze", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentTimeout)
	assert.Equal(t, 1, fh.shutdownCalls)
}

func TestAnalyzerRunFailsOnNonZeroExit(t *testing.T) {
	fh := newFakeHandle()
	fh.execExitCode = 1

	a := testAnalyzer(t, fh, baseConfig())
	_, err := a.Run(context.Background(), "https://github.com/acme/widget", "analyze", "")

	require.Error(t, err)
	assert.Equal(t, 1, fh.shutdownCalls)
}

func TestAnalyzerCopiesPromptIntoContainer(t *testing.T) {
	fh := newFakeHandle()
	fh.tasksJSON = `[{"id":"t1","title":"a","description":"d","priority":1}]`

	a := testAnalyzer(t, fh, baseConfig())
	_, err := a.Run(context.Background(), "https://github.com/acme/widget", "my prompt body", "")

	require.NoError(t, err)
	assert.Equal(t, "my prompt body", fh.copiedIn[containerAnalyzerPrompt])
}

func TestAnalyzerMissingCredentialPathIsNotFatal(t *testing.T) {
	fh := newFakeHandle()
	fh.tasksJSON = `[{"id":"t1","title":"a","description":"d","priority":1}]`

	a := testAnalyzer(t, fh, baseConfig())
	_, err := a.Run(context.Background(), "https://github.com/acme/widget", "p", "/no/such/credentials/file")

	require.NoError(t, err)
	assert.NotContains(t, fh.copiedIn, containerGitCredentials)
}
