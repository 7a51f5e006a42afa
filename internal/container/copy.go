package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerArchive "github.com/docker/docker/pkg/archive"
	"github.com/google/uuid"
)

// CopyInFile copies a single local file into the container at
// containerPath (a full destination path, not a directory). The file is
// staged at a temporary name in the same directory and moved into place
// with a single rename, so a reader of containerPath never observes a
// partially written file.
func (h *Handle) CopyInFile(ctx context.Context, localPath, containerPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLocalPathMissing, localPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, use CopyInTree", localPath)
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localPath, err)
	}

	dstDir := filepath.Dir(containerPath)
	tmpName := fmt.Sprintf("%s.tmp-%s", filepath.Base(containerPath), uuid.New().String()[:8])
	tmpPath := filepath.Join(dstDir, tmpName)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: tmpName,
		Mode: int64(info.Mode().Perm()),
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", containerPath, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("writing tar body for %s: %w", containerPath, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar for %s: %w", containerPath, err)
	}

	if err := h.docker.CopyToContainer(ctx, h.id, dstDir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("staging %s into container: %w", containerPath, err)
	}

	moveResult, err := h.ExecBlocking(ctx, []string{"/bin/sh", "-c", fmt.Sprintf("mv -f %s %s", shQuote(tmpPath), shQuote(containerPath))}, 10*time.Second)
	if err != nil {
		return fmt.Errorf("moving staged file into place at %s: %w", containerPath, err)
	}
	if moveResult == nil || !moveResult.Success() {
		return fmt.Errorf("moving staged file into place at %s: mv exited nonzero", containerPath)
	}
	return nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// CopyInTree copies the contents of a local directory into
// containerPath, preserving relative structure.
func (h *Handle) CopyInTree(ctx context.Context, localDir, containerPath string) error {
	info, err := os.Stat(localDir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLocalPathMissing, localDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory, use CopyInFile", localDir)
	}

	reader, err := dockerArchive.TarWithOptions(localDir, &dockerArchive.TarOptions{})
	if err != nil {
		return fmt.Errorf("building tar archive of %s: %w", localDir, err)
	}
	defer reader.Close()

	if err := h.docker.CopyToContainer(ctx, h.id, containerPath, reader, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying %s into container: %w", localDir, err)
	}
	return nil
}

// CopyOutFile copies a single file out of the container to a local
// path, creating parent directories as needed.
func (h *Handle) CopyOutFile(ctx context.Context, containerPath, localPath string) error {
	reader, _, err := h.docker.CopyFromContainer(ctx, h.id, containerPath)
	if err != nil {
		return fmt.Errorf("copying %s from container: %w", containerPath, err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	hdr, err := tr.Next()
	if err == io.EOF {
		return fmt.Errorf("container path %s produced an empty archive", containerPath)
	}
	if err != nil {
		return fmt.Errorf("reading tar from container for %s: %w", containerPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("creating parent dir for %s: %w", localPath, err)
	}

	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, tr); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}
