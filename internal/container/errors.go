package container

import "errors"

// ErrContainerStart is returned when the configured image cannot be
// pulled, an exposed port is invalid, or a container fails to create or
// start.
var ErrContainerStart = errors.New("container: failed to start")

// ErrLocalPathMissing is returned by CopyInFile/CopyInTree when the
// local source path does not exist.
var ErrLocalPathMissing = errors.New("container: local path missing")

// ErrExecTimeout is returned when a command run via ExecBlocking or
// ExecStreaming does not complete within its configured timeout.
var ErrExecTimeout = errors.New("container: exec timed out")
