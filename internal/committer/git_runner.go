package committer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// gitRunner executes git subcommands against a working directory. It
// shells out to the real git binary rather than a go-git-style library,
// since the committer only ever needs the same handful of porcelain
// commands a human would type.
type gitRunner interface {
	run(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error)
	runWithStdin(ctx context.Context, dir string, stdin string, args ...string) (stdout, stderr string, err error)
}

type shellGitRunner struct{}

func newShellGitRunner() *shellGitRunner { return &shellGitRunner{} }

func (r *shellGitRunner) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	return r.exec(ctx, dir, "", args...)
}

func (r *shellGitRunner) runWithStdin(ctx context.Context, dir, stdin string, args ...string) (string, string, error) {
	return r.exec(ctx, dir, stdin, args...)
}

func (r *shellGitRunner) exec(ctx context.Context, dir, stdin string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	if stdin != "" {
		cmd.Stdin = bytes.NewBufferString(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("git %v: %w: %s", args, err, stderr.String())
	}
	return stdout.String(), stderr.String(), nil
}
