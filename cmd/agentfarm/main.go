// Command agentfarm drives the analyze-schedule-solve-commit pipeline
// against a git repository.
package main

import (
	"fmt"
	"os"

	"github.com/agentfarm/agentfarm/internal/commands"
	"github.com/agentfarm/agentfarm/internal/version"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime
	version.GitCommit = GitCommit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
