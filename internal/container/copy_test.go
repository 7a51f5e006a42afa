package container

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyInFileMissingLocalPath(t *testing.T) {
	fake := newFakeDocker()
	h := New(fake, "container-1", "name", testLogger())

	err := h.CopyInFile(context.Background(), "/does/not/exist", "/app/prompt.md")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocalPathMissing)
}

func TestCopyInFileBuildsTarAndSendsToParentDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(src, []byte("do the thing"), 0o644))

	fake := newFakeDocker()
	h := New(fake, "container-1", "name", testLogger())

	err := h.CopyInFile(context.Background(), src, "/app/prompt.md")
	require.NoError(t, err)

	body, ok := fake.copiedTo["/app"]
	require.True(t, ok, "expected a tar sent to /app")

	tr := tar.NewReader(bytes.NewReader(body))
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Contains(t, hdr.Name, "prompt.md.tmp-")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(tr)
	require.NoError(t, err)
	assert.Equal(t, "do the thing", buf.String())
}

func TestCopyInFileStagesAtTempNameThenMovesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(src, []byte("do the thing"), 0o644))

	fake := newFakeDocker()
	h := New(fake, "container-1", "name", testLogger())

	err := h.CopyInFile(context.Background(), src, "/app/prompt.md")
	require.NoError(t, err)

	body := fake.copiedTo["/app"]
	tr := tar.NewReader(bytes.NewReader(body))
	hdr, err := tr.Next()
	require.NoError(t, err)

	assert.NotEqual(t, "prompt.md", hdr.Name, "file must be staged under a temp name, not the final name")
	assert.True(t, strings.HasPrefix(hdr.Name, "prompt.md.tmp-"))
}

func TestCopyInFileMoveFailurePropagatesError(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(src, []byte("do the thing"), 0o644))

	fake := newFakeDocker()
	fake.execExitCode = 1
	h := New(fake, "container-1", "name", testLogger())

	err := h.CopyInFile(context.Background(), src, "/app/prompt.md")
	require.Error(t, err)
}

func TestCopyInTreeRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	fake := newFakeDocker()
	h := New(fake, "container-1", "name", testLogger())

	err := h.CopyInTree(context.Background(), file, "/app/repo")
	require.Error(t, err)
}

func TestCopyOutFileExtractsSingleEntry(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "finalReport.json", Mode: 0o644, Size: int64(len("{}"))}))
	_, err := tw.Write([]byte("{}"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	fake := newFakeDocker()
	fake.copyFromTar = buf.Bytes()
	h := New(fake, "container-1", "name", testLogger())

	dst := filepath.Join(t.TempDir(), "out", "finalReport.json")
	err = h.CopyOutFile(context.Background(), "/app/finalReport.json", dst)
	require.NoError(t, err)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(content))
}

func TestCopyOutFileEmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.Close())

	fake := newFakeDocker()
	fake.copyFromTar = buf.Bytes()
	h := New(fake, "container-1", "name", testLogger())

	err := h.CopyOutFile(context.Background(), "/app/missing.json", filepath.Join(t.TempDir(), "out.json"))
	require.Error(t, err)
}
