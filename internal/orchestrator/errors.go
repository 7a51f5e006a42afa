package orchestrator

import "errors"

// ErrNoGitRemote is returned when the host repository has no resolvable
// git remote to hand to the Analyzer and Task Solvers.
var ErrNoGitRemote = errors.New("orchestrator: could not determine host repository git remote")
