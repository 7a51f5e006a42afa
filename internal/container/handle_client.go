package container

import dockerclient "github.com/docker/docker/client"

// Compile-time assertion that the real Docker client satisfies dockerAPI.
var _ dockerAPI = (*dockerclient.Client)(nil)
