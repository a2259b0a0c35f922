package fileio

import (
	"bytes"
	"testing"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeekSize_ReturnsLengthAndRestoresPosition(t *testing.T) {
	src := bytes.NewReader([]byte("hello world"))
	_, err := src.Seek(3, 0)
	require.NoError(t, err)

	size, err := seekSize(src)
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	pos, err := src.Seek(0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)
}

func TestPosixDir_NestedPath(t *testing.T) {
	assert.Equal(t, "/a/b", posixDir("/a/b/c.txt"))
}

func TestPosixDir_TopLevelPath(t *testing.T) {
	assert.Equal(t, "/", posixDir("/c.txt"))
}

func TestPosixDir_NoSlash(t *testing.T) {
	assert.Equal(t, "/", posixDir("c.txt"))
}

func TestShellQuote_SimplePath(t *testing.T) {
	assert.Equal(t, "/tmp/x", shellQuote("/tmp/x"))
}

func TestShellQuote_PathWithSpace(t *testing.T) {
	assert.Equal(t, "'/tmp/my file'", shellQuote("/tmp/my file"))
}

func TestClassifyReadWriteError_NotFound(t *testing.T) {
	err := classifyReadWriteError("head: cannot open '/nope': No such file or directory", 1)
	assert.True(t, sberr.Is(err, sberr.ErrNotFound))
}

func TestClassifyReadWriteError_PermissionDenied(t *testing.T) {
	err := classifyReadWriteError("head: cannot open '/root/x': Permission denied", 1)
	assert.True(t, sberr.Is(err, sberr.ErrPermissionDenied))
}

func TestClassifyReadWriteError_IsADirectory(t *testing.T) {
	err := classifyReadWriteError("head: error reading '/tmp': Is a directory", 1)
	assert.True(t, sberr.Is(err, sberr.ErrIsADirectory))
}

func TestClassifyReadWriteError_UnrecognisedIsPodError(t *testing.T) {
	err := classifyReadWriteError("something bizarre happened", 2)
	assert.True(t, sberr.Is(err, sberr.ErrPodError))
}

func TestStreamChunks_WritesAllData(t *testing.T) {
	var written bytes.Buffer
	fake := &fakeStdinWriter{buf: &written}
	err := streamChunks(fake, bytes.NewReader([]byte("abcdef")))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", written.String())
}

// fakeStdinWriter satisfies the subset of *podexec.Channel streamChunks
// needs (Write) without requiring a live websocket connection.
type fakeStdinWriter struct {
	buf *bytes.Buffer
}

func (f *fakeStdinWriter) Write(data []byte) error {
	f.buf.Write(data)
	return nil
}
