package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecBlocking runs a command to completion and returns its combined
// output. It is the primitive used for short, deterministic commands
// (git clone, file writes) where the caller has no interest in
// incremental output.
func (h *Handle) ExecBlocking(ctx context.Context, cmd []string, timeout time.Duration) (*CommandResult, error) {
	return h.exec(ctx, cmd, timeout)
}

// ExecStreaming runs a command and drains stdout/stderr concurrently as
// they arrive, for long-running agent invocations whose output the
// caller wants to forward (e.g. to the run log) as it is produced
// rather than buffered entirely in memory until exit.
func (h *Handle) ExecStreaming(ctx context.Context, cmd []string, timeout time.Duration, onStdout, onStderr func(line string)) (*CommandResult, error) {
	return h.execWithSinks(ctx, cmd, timeout, onStdout, onStderr)
}

func (h *Handle) exec(ctx context.Context, cmd []string, timeout time.Duration) (*CommandResult, error) {
	var stdout, stderr bytes.Buffer
	result, err := h.runExec(ctx, cmd, timeout, &stdout, &stderr)
	if result != nil {
		prefix := provenancePrefix(cmd)
		result.Stdout = prefix + stdout.String()
		result.Stderr = prefix + stderr.String()
		result.Combined = prefix + stdout.String() + stderr.String()
	}
	return result, err
}

func (h *Handle) execWithSinks(ctx context.Context, cmd []string, timeout time.Duration, onStdout, onStderr func(line string)) (*CommandResult, error) {
	stdoutW := &lineSink{emit: onStdout}
	stderrW := &lineSink{emit: onStderr}
	result, err := h.runExec(ctx, cmd, timeout, stdoutW, stderrW)
	if result != nil {
		prefix := provenancePrefix(cmd)
		result.Stdout = prefix + stdoutW.buf.String()
		result.Stderr = prefix + stderrW.buf.String()
		result.Combined = prefix + stdoutW.buf.String() + stderrW.buf.String()
	}
	return result, err
}

// provenancePrefix is prepended to captured output so a reader of the
// run log can tell which command produced which lines.
func provenancePrefix(cmd []string) string {
	return fmt.Sprintf("$ %s\n", strings.Join(cmd, " "))
}

// runExec creates, attaches to, and waits for one exec instance,
// demultiplexing the raw stdcopy stream into stdout/stderr as it is
// read.
func (h *Handle) runExec(ctx context.Context, cmd []string, timeout time.Duration, stdout, stderr io.Writer) (*CommandResult, error) {
	start := time.Now()
	result := &CommandResult{Command: cmd}

	execResp, err := h.docker.ContainerExecCreate(ctx, h.id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec for %v: %w", cmd, err)
	}

	attachCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attachCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	attached, err := h.docker.ContainerExecAttach(attachCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching exec for %v: %w", cmd, err)
	}
	defer attached.Close()

	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdout, stderr, attached.Reader)
		done <- copyErr
	}()

	select {
	case copyErr := <-done:
		if copyErr != nil && copyErr != io.EOF {
			return nil, fmt.Errorf("reading exec output for %v: %w", cmd, copyErr)
		}
	case <-attachCtx.Done():
		result.Duration = time.Since(start)
		result.TimedOut = true
		return result, fmt.Errorf("%w: %v after %s", ErrExecTimeout, cmd, timeout)
	}

	inspect, err := h.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec for %v: %w", cmd, err)
	}

	result.ExitCode = inspect.ExitCode
	result.Duration = time.Since(start)
	return result, nil
}

// lineSink is an io.Writer that buffers everything written (for the
// caller's final CommandResult) while also invoking emit per complete
// line, for callers that want incremental forwarding.
type lineSink struct {
	buf     bytes.Buffer
	partial string
	emit    func(line string)
}

func (s *lineSink) Write(p []byte) (int, error) {
	s.buf.Write(p)
	if s.emit == nil {
		return len(p), nil
	}
	s.partial += string(p)
	for {
		idx := strings.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}
		s.emit(s.partial[:idx])
		s.partial = s.partial[idx+1:]
	}
	return len(p), nil
}
