// Package agentfarm orchestrates a fleet of coding agents against a git
// repository.
//
// # Overview
//
// agentfarm clones a repository, asks an analyzer agent to break the
// repository's outstanding work into a list of independent tasks, then
// runs one coding agent per task inside its own disposable container.
// Each agent's patch is committed onto its own branch so a human can
// review and merge the ones that look good.
//
// The pipeline has four stages:
//   - Analyzer: runs one agent inside one container to produce a task list
//   - Task Scheduler: dispatches tasks concurrently, respecting a
//     configured container limit and each task's declared followers
//   - Task Solver: runs one agent per task inside its own container and
//     extracts the resulting patch and report
//   - Patch Committer: applies each patch onto its own branch in the
//     host repository checkout
//
// # Architecture
//
//	┌──────────────┐
//	│  Analyzer    │  one container, produces tasks.json
//	└──────┬───────┘
//	       │
//	┌──────▼───────┐
//	│  Scheduler   │  bounded concurrency, follower-aware dispatch
//	└──────┬───────┘
//	       │  one container per task
//	┌──────▼───────┐
//	│  Solver      │  runs agent, extracts report + patch
//	└──────┬───────┘
//	       │
//	┌──────▼───────┐
//	│  Committer   │  applies patch onto task-<id>-<timestamp> branch
//	└──────────────┘
//
// # Usage
//
// Run the full pipeline against a repository checkout:
//
//	agentfarm run --repo . --analyzer-prompt analyzer.md --solver-prompt solver.md
//
// Run only the analyzer and print the derived task list, without
// starting any solver containers:
//
//	agentfarm run --repo . --analyzer-prompt analyzer.md --dry-run
//
// # Configuration
//
// Configuration can be provided via a per-project YAML file
// (.agentfarm.yaml), environment variables (AGENTFARM_ prefix), or
// command-line flags. See internal/config for the full schema,
// including container resource limits, the dirty-working-tree recovery
// policy, the base image, and per-agent-family credentials and install
// sources.
//
// # Technology Stack
//
//   - Go 1.25+
//   - Docker Engine API (container lifecycle)
//   - Cobra + Viper (CLI and configuration)
//   - zerolog (structured logging)
//   - golang.org/x/sync/errgroup (bounded concurrent dispatch)
package agentfarm
