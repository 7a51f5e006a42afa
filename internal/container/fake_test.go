package container

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDocker is a minimal, in-memory stand-in for dockerAPI used by
// every test in this package. No Docker daemon is ever contacted.
type fakeDocker struct {
	createErr  error
	startErr   error
	removeErr  error
	createName string
	removedIDs []string

	imageInspectErr error
	pulled          []string
	pullErr         error

	execCreateErr  error
	execAttachErr  error
	execInspectErr error
	execExitCode   int
	execHang       bool
	stdoutFrames   [][]byte
	stderrFrames   [][]byte

	copyToErr   error
	copiedTo    map[string][]byte
	copyFromErr error
	copyFromTar []byte
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{copiedTo: map[string][]byte{}}
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.createName = name
	return container.CreateResponse{ID: "fake-container-id"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, opts container.StartOptions) error {
	return f.startErr
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	f.removedIDs = append(f.removedIDs, id)
	return f.removeErr
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, id string, cfg container.ExecOptions) (container.ExecCreateResponse, error) {
	if f.execCreateErr != nil {
		return container.ExecCreateResponse{}, f.execCreateErr
	}
	return container.ExecCreateResponse{ID: "fake-exec-id"}, nil
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, opts container.ExecStartOptions) (dockerclient.HijackedResponse, error) {
	if f.execAttachErr != nil {
		return dockerclient.HijackedResponse{}, f.execAttachErr
	}

	clientConn, serverConn := net.Pipe()
	if !f.execHang {
		go func() {
			for _, frame := range f.stdoutFrames {
				_, _ = serverConn.Write(stdcopyFrame(1, frame))
			}
			for _, frame := range f.stderrFrames {
				_, _ = serverConn.Write(stdcopyFrame(2, frame))
			}
			_ = serverConn.Close()
		}()
	}

	return dockerclient.HijackedResponse{Conn: clientConn, Reader: bufio.NewReader(clientConn)}, nil
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	if f.execInspectErr != nil {
		return container.ExecInspect{}, f.execInspectErr
	}
	return container.ExecInspect{ExitCode: f.execExitCode}, nil
}

func (f *fakeDocker) CopyToContainer(ctx context.Context, id, dst string, content io.Reader, opts container.CopyToContainerOptions) error {
	if f.copyToErr != nil {
		return f.copyToErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return err
	}
	f.copiedTo[dst] = buf.Bytes()
	return nil
}

func (f *fakeDocker) CopyFromContainer(ctx context.Context, id, src string) (io.ReadCloser, container.PathStat, error) {
	if f.copyFromErr != nil {
		return nil, container.PathStat{}, f.copyFromErr
	}
	return io.NopCloser(bytes.NewReader(f.copyFromTar)), container.PathStat{}, nil
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeDocker) ImageInspectWithRaw(ctx context.Context, imageID string) ([]byte, []byte, error) {
	if f.imageInspectErr != nil {
		return nil, nil, f.imageInspectErr
	}
	return []byte("{}"), nil, nil
}

var errImageNotFound = errors.New("no such image")

// stdcopyFrame wraps payload in the 8-byte stdcopy multiplexing header
// docker uses for non-tty exec streams: [stream type, 0, 0, 0, size(4 bytes BE)].
func stdcopyFrame(streamType byte, payload []byte) []byte {
	header := make([]byte, 8)
	header[0] = streamType
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}
