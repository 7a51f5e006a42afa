package solver

import "errors"

// ErrSolverEnvironment is returned when a provisioning step (clone,
// tooling install, agent install) fails before the agent itself ever
// runs.
var ErrSolverEnvironment = errors.New("solver: environment provisioning failed")

// ErrReportParse is returned when the agent's final-report file cannot
// be parsed as the expected JSON object.
var ErrReportParse = errors.New("solver: failed to parse agent final report")
