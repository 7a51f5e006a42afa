// Package dockerhost constructs the shared Docker API client every
// Container Handle uses. Client construction is kept out of
// internal/container so Handle can be built and tested against a fake
// without importing client-negotiation concerns.
package dockerhost

import (
	"fmt"

	dockerclient "github.com/docker/docker/client"
)

// New returns a Docker client for the local daemon, honoring DOCKER_HOST,
// DOCKER_CERT_PATH, and DOCKER_TLS_VERIFY the way the Docker CLI itself
// does, with API version negotiation so the client works against a range
// of daemon versions.
func New() (*dockerclient.Client, error) {
	client, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("constructing docker client: %w", err)
	}
	return client, nil
}
