package agentinvoke

import "errors"

// ErrCredentialPolicy is returned when a configured credential value is
// present without the corresponding export-required flag, violating
// the Config invariant that a credential is either absent or exported.
var ErrCredentialPolicy = errors.New("agentinvoke: credential present without export_required")

// ErrUnknownFamily is returned for an agent family outside the closed
// A/B/C/D enumeration; should be unreachable once Config validation has
// run, but is checked here too since BuildCommands is a public entry
// point other callers (tests, future CLI subcommands) may use directly.
var ErrUnknownFamily = errors.New("agentinvoke: unknown agent family")
