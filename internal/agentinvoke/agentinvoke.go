// Package agentinvoke builds the ordered shell command sequence that
// turns a blank base image into a working agent environment and then
// invokes the agent, per family and per role.
package agentinvoke

import (
	"fmt"
	"strings"

	"github.com/agentfarm/agentfarm/internal/config"
)

// Role distinguishes the analyzer container's command sequence from
// the solver's.
type Role string

const (
	RoleAnalyzer Role = "analyzer"
	RoleSolver   Role = "solver"
)

const (
	repoPath             = "/app/repo"
	analyzerPromptPath   = "/app/codeAnalyzerPrompt.txt"
	solverPromptPath     = "/app/taskSolverPrompt.txt"
	diffHarnessPath      = "/app/git_diff_harness.sh"
	diffOutputPath       = "/app/git_diff.txt"
	defaultInstallSource = "https://pkg.agentfarm.invalid/agents/%s/install.sh"
)

// Request carries everything BuildCommands needs beyond the static
// family table.
type Request struct {
	Config     *config.Config
	Role       Role
	GitURL     string
	UseSSH     bool
	Credential config.AgentCredentials
}

// BuildCommands returns the ordered shell commands for req: the shared
// clone/tooling/install preamble, followed by the role-specific
// invocation. Every element is meant to be run one at a time via
// Container Handle's execStreaming.
func BuildCommands(req Request) ([]string, error) {
	profile, err := lookupFamily(req.Config.AgentFamily)
	if err != nil {
		return nil, err
	}

	if req.Credential.Value != "" && !req.Credential.ExportRequired {
		return nil, fmt.Errorf("%w: family %s", ErrCredentialPolicy, req.Config.AgentFamily)
	}

	cmds := []string{
		cloneCommand(req.GitURL, req.UseSSH),
		"apt-get update -qq",
		"apt-get install -y -qq curl ca-certificates git",
		installCommand(req.Config.AgentFamily, profile, req.Config.InstallSources),
	}

	promptPath := analyzerPromptPath
	if req.Role == RoleSolver {
		promptPath = solverPromptPath
		cmds = append(cmds, diffHarnessCommand())
	}

	cmds = append(cmds, invokeCommand(profile, req.Credential, promptPath))

	return cmds, nil
}

func cloneCommand(gitURL string, useSSH bool) string {
	remote := gitURL
	if useSSH {
		remote = toSSHRemote(gitURL)
	}
	return fmt.Sprintf("git clone --depth 1 %s %s", remote, repoPath)
}

// toSSHRemote rewrites an http(s):// remote into the equivalent
// git@host:path.git form. Remotes already in another form are returned
// unchanged.
func toSSHRemote(httpsURL string) string {
	trimmed := strings.TrimPrefix(httpsURL, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	if trimmed == httpsURL {
		return httpsURL
	}
	trimmed = strings.TrimSuffix(trimmed, ".git")

	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return httpsURL
	}
	host, path := trimmed[:idx], trimmed[idx+1:]
	return fmt.Sprintf("git@%s:%s.git", host, path)
}

func installCommand(family config.AgentFamily, profile familyProfile, sources map[config.AgentFamily]string) string {
	source := sources[family]
	if source == "" {
		source = fmt.Sprintf(defaultInstallSource, strings.ToLower(string(family)))
	}

	install := fmt.Sprintf("curl -fsSL %s | sh", source)
	if profile.ClearProxyForInstall {
		install = "env -u HTTP_PROXY -u HTTPS_PROXY -u NO_PROXY -u http_proxy -u https_proxy -u no_proxy " + install
	}
	return install
}

func diffHarnessCommand() string {
	script := fmt.Sprintf(`cat <<'HARNESS' > %s
#!/bin/sh
cd %s && git diff > %s
HARNESS
chmod +x %s`, diffHarnessPath, repoPath, diffOutputPath, diffHarnessPath)
	return script
}

func invokeCommand(profile familyProfile, cred config.AgentCredentials, promptPath string) string {
	var env []string
	if cred.Value != "" {
		env = append(env, fmt.Sprintf("%s=%s", profile.CredentialEnvVar, cred.Value))
	}
	if profile.EndpointEnvVar != "" && cred.EndpointOverride != "" {
		env = append(env, fmt.Sprintf("%s=%s", profile.EndpointEnvVar, cred.EndpointOverride))
	}
	env = append(env, profile.HardeningEnv...)

	prefix := ""
	if len(env) > 0 {
		prefix = strings.Join(env, " ") + " "
	}

	args := strings.Join(profile.HardeningFlags, " ")
	if args != "" {
		args = " " + args
	}

	return fmt.Sprintf("%sagent run%s --prompt %s", prefix, args, promptPath)
}
