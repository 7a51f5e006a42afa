package committer

import "errors"

// ErrDirtyWorkingTree is returned when the host repository has
// uncommitted changes and no recovery policy is configured to handle
// them.
var ErrDirtyWorkingTree = errors.New("committer: working tree is dirty and no recovery policy is configured")

// ErrPatchApply is returned when a task's patch fails to apply cleanly
// against the anchor commit.
var ErrPatchApply = errors.New("committer: patch failed to apply")
