package agentinvoke

import "github.com/agentfarm/agentfarm/internal/config"

// familyProfile is the per-family record of command-construction
// conventions: credential env var name, optional endpoint override env
// var name, extra hardening carried on the invocation command, and
// whether the install step must clear the inherited proxy. Names are
// code constants; the *values* behind them (the credential itself, the
// install source URL, the endpoint override) come from Config, since
// they vary per deployment, not per family.
type familyProfile struct {
	CredentialEnvVar     string
	EndpointEnvVar       string
	HardeningFlags       []string
	HardeningEnv         []string
	ClearProxyForInstall bool
}

var familyTable = map[config.AgentFamily]familyProfile{
	config.AgentFamilyA: {
		CredentialEnvVar: "API_KEY_A",
		EndpointEnvVar:   "BASE_URL_A",
		HardeningEnv:     []string{"SANDBOX=1"},
	},
	config.AgentFamilyB: {
		CredentialEnvVar:     "API_KEY_B",
		HardeningFlags:       []string{"--yolo"},
		ClearProxyForInstall: true,
	},
	config.AgentFamilyC: {
		CredentialEnvVar: "API_KEY_C",
	},
	config.AgentFamilyD: {
		CredentialEnvVar:     "API_KEY_D",
		HardeningEnv:         []string{"STRICT_MODE=1"},
		ClearProxyForInstall: true,
	},
}

func lookupFamily(f config.AgentFamily) (familyProfile, error) {
	profile, ok := familyTable[f]
	if !ok {
		return familyProfile{}, ErrUnknownFamily
	}
	return profile, nil
}
