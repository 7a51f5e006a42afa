// Package container implements the Container Handle: the lifecycle and
// I/O primitive every other component in the orchestration pipeline
// builds on. A Handle wraps exactly one running container and exposes
// start, blocking/streaming exec, file/tree copy, and shutdown.
package container

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// dockerAPI is the narrow subset of *dockerclient.Client a Handle
// needs. Tests satisfy it with a fake so the Docker daemon is never
// required to exercise the package.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, config container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecStartOptions) (dockerclient.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) ([]byte, []byte, error)
}

// The compile-time assertion that *dockerclient.Client satisfies
// dockerAPI lives in handle_client.go.

// PullPolicy controls when Start pulls the image before creating the
// container.
type PullPolicy string

const (
	PullNever        PullPolicy = "never"
	PullIfNotPresent PullPolicy = "if-not-present"
	PullAlways       PullPolicy = "always"
)

// StartConfig describes the container a Handle should bring up.
type StartConfig struct {
	Image      string
	NamePrefix string
	PullPolicy PullPolicy

	MemoryMB int
	CPUCores float64

	Env   []string
	Ports []int // container ports to expose, no host binding required

	Proxy ProxyEnv
}

// ProxyEnv carries the proxy environment variables passed through to
// every container, both the upper- and lower-case alias each tool in
// the wild tends to check.
type ProxyEnv struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

func (p ProxyEnv) asEnv() []string {
	if p.HTTPProxy == "" && p.HTTPSProxy == "" && p.NoProxy == "" {
		return nil
	}
	var env []string
	add := func(k, v string) {
		if v == "" {
			return
		}
		env = append(env, fmt.Sprintf("%s=%s", k, v))
		env = append(env, fmt.Sprintf("%s=%s", lower(k), v))
	}
	add("HTTP_PROXY", p.HTTPProxy)
	add("HTTPS_PROXY", p.HTTPSProxy)
	add("NO_PROXY", p.NoProxy)
	return env
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// CommandResult is the outcome of one exec run inside a container.
type CommandResult struct {
	Command  []string
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Success reports whether the command exited zero and did not time out.
func (r *CommandResult) Success() bool {
	return r != nil && !r.TimedOut && r.ExitCode == 0
}

// HandleAPI is the subset of Handle's method set that callers
// (Analyzer, Task Solver) depend on. Depending on the interface rather
// than the concrete *Handle lets those packages be tested with a
// hand-written fake that never touches Docker at all.
type HandleAPI interface {
	ID() string
	ExecBlocking(ctx context.Context, cmd []string, timeout time.Duration) (*CommandResult, error)
	ExecStreaming(ctx context.Context, cmd []string, timeout time.Duration, onStdout, onStderr func(line string)) (*CommandResult, error)
	CopyInFile(ctx context.Context, localPath, containerPath string) error
	CopyInTree(ctx context.Context, localDir, containerPath string) error
	CopyOutFile(ctx context.Context, containerPath, localPath string) error
	Shutdown(ctx context.Context) error
}

// Handle wraps one running container and its I/O operations.
type Handle struct {
	docker dockerAPI
	id     string
	name   string
	log    zerolog.Logger

	backoff *rate.Limiter
}

// New wraps an already-known container id/name, used by tests and by
// callers that discover an existing container out of band.
func New(docker dockerAPI, id, name string, log zerolog.Logger) *Handle {
	return &Handle{
		docker:  docker,
		id:      id,
		name:    name,
		log:     log,
		backoff: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

var _ HandleAPI = (*Handle)(nil)

// StarterFunc starts a new container per cfg and returns it as a
// HandleAPI, decoupling callers from the concrete Docker client.
type StarterFunc func(ctx context.Context, cfg StartConfig) (HandleAPI, error)

// NewStarter binds docker and log into a StarterFunc suitable for
// production use.
func NewStarter(docker dockerAPI, log zerolog.Logger) StarterFunc {
	return func(ctx context.Context, cfg StartConfig) (HandleAPI, error) {
		return Start(ctx, docker, cfg, log)
	}
}

// ID returns the underlying container id.
func (h *Handle) ID() string { return h.id }

// Start creates and starts a new container per cfg, pulling the image
// per the configured policy first. The returned Handle's Shutdown must
// be called to release the container even on error paths the caller
// recovers from.
func Start(ctx context.Context, docker dockerAPI, cfg StartConfig, log zerolog.Logger) (*Handle, error) {
	if err := pullImage(ctx, docker, cfg.Image, cfg.PullPolicy); err != nil {
		return nil, fmt.Errorf("%w: pulling image %s: %v", ErrContainerStart, cfg.Image, err)
	}

	name := cfg.NamePrefix
	if name == "" {
		name = "agentfarm"
	}
	name = fmt.Sprintf("%s-%s", name, uuid.New().String()[:8])

	containerConfig := &container.Config{
		Image: cfg.Image,
		Env:   append(cfg.Env, cfg.Proxy.asEnv()...),
		Tty:   false,
	}

	exposedPorts := make(nat.PortSet, len(cfg.Ports))
	for _, p := range cfg.Ports {
		natPort, err := nat.NewPort("tcp", strconv.Itoa(p))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid exposed port %d: %v", ErrContainerStart, p, err)
		}
		exposedPorts[natPort] = struct{}{}
	}
	containerConfig.ExposedPorts = exposedPorts

	hostConfig := &container.HostConfig{}
	if cfg.MemoryMB > 0 {
		hostConfig.Resources.Memory = int64(cfg.MemoryMB) * 1024 * 1024
	}
	if cfg.CPUCores > 0 {
		hostConfig.Resources.NanoCPUs = int64(cfg.CPUCores * 1e9)
	}

	resp, err := docker.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrContainerStart, name, err)
	}

	if err := docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: start %s: %v", ErrContainerStart, resp.ID, err)
	}

	h := New(docker, resp.ID, name, log.With().Str("container", name).Logger())
	h.log.Debug().Str("image", cfg.Image).Msg("container started")

	// Jittered settle window before the first exec is attempted, to
	// avoid the race where the entrypoint process has not yet finished
	// initializing (see design note on container-readiness race).
	h.settle(ctx)

	return h, nil
}

// settle waits a short, randomized interval so the first exec issued
// against a freshly started container doesn't race its entrypoint.
func (h *Handle) settle(ctx context.Context) {
	jitter := time.Duration(rand.Intn(300)) * time.Millisecond
	select {
	case <-time.After(200*time.Millisecond + jitter):
	case <-ctx.Done():
	}
	_ = h.backoff.Wait(ctx)
}

// Shutdown force-removes the container. It is idempotent: calling it
// more than once, or on a container already gone, is not an error.
func (h *Handle) Shutdown(ctx context.Context) error {
	err := h.docker.ContainerRemove(ctx, h.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("removing container %s: %w", h.id, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && containsAny(err.Error(), "No such container", "is already in progress")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func pullImage(ctx context.Context, docker dockerAPI, imageName string, policy PullPolicy) error {
	if policy == "" {
		policy = PullIfNotPresent
	}

	switch policy {
	case PullNever:
		return nil

	case PullIfNotPresent:
		if _, _, err := docker.ImageInspectWithRaw(ctx, imageName); err == nil {
			return nil
		}
		fallthrough

	case PullAlways:
		reader, err := docker.ImagePull(ctx, imageName, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("pulling image %s: %w", imageName, err)
		}
		defer reader.Close()
		_, err = io.Copy(io.Discard, reader)
		return err

	default:
		return fmt.Errorf("invalid pull policy: %s", policy)
	}
}
