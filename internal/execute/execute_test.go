package execute

import (
	"testing"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/buffer"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/podexec"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamResultForTest(t *testing.T, stdout, stderr string) streamResult {
	t.Helper()
	out := buffer.NewBounded(MaxOutputSize)
	out.Append([]byte(stdout))
	errBuf := buffer.NewBounded(MaxOutputSize)
	errBuf.Append([]byte(stderr))
	return streamResult{stdout: out, stderr: errBuf}
}

func TestBuildShellScript_PlainCommand(t *testing.T) {
	script := buildShellScript(Options{Command: []string{"echo", "hi"}})
	assert.Contains(t, script, "echo hi\n")
	assert.Contains(t, script, "returncode=$?\n")
	assert.Contains(t, script, "sync\n")
	assert.Contains(t, script, `echo -n "<completed-sentinel-value-$returncode>"`)
	assert.Contains(t, script, "exit $returncode\n")
	assert.NotContains(t, script, "cd ")
	assert.NotContains(t, script, "base64")
}

func TestBuildShellScript_WithCwdAndEnv(t *testing.T) {
	script := buildShellScript(Options{
		Command: []string{"pwd"},
		Cwd:     "/tmp/work dir",
		Env:     map[string]string{"FOO": "bar baz"},
	})
	assert.Contains(t, script, "cd '/tmp/work dir' || exit $?\n")
	assert.Contains(t, script, "export FOO='bar baz'\n")
}

func TestBuildShellScript_WithStdinBase64Pipes(t *testing.T) {
	script := buildShellScript(Options{
		Command:  []string{"cat"},
		Stdin:    []byte("hello\x00world"),
		HasStdin: true,
	})
	assert.Contains(t, script, "| base64 -d | cat\n")
}

func TestBuildShellScript_WithTimeout(t *testing.T) {
	script := buildShellScript(Options{
		Command: []string{"sleep", "10"},
		Timeout: 5,
	})
	assert.Contains(t, script, "timeout -k 5s 5s sleep 10\n")
}

func TestShellQuote_EmptyString(t *testing.T) {
	assert.Equal(t, "''", shellQuote(""))
}

func TestShellQuote_SimpleWord(t *testing.T) {
	assert.Equal(t, "hello", shellQuote("hello"))
}

func TestShellQuote_EscapesEmbeddedQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestFilterSentinel_NoSentinelPassesThrough(t *testing.T) {
	filtered, code, err := filterSentinel([]byte("hello world\n"))
	assert.NoError(t, err)
	assert.Nil(t, code)
	assert.Equal(t, "hello world\n", string(filtered))
}

func TestFilterSentinel_ExtractsReturnCodeAndStripsMarker(t *testing.T) {
	frame := []byte("hi\n<completed-sentinel-value-0>")
	filtered, code, err := filterSentinel(frame)
	assert.NoError(t, err)
	assert.NotNil(t, code)
	assert.Equal(t, 0, *code)
	assert.Equal(t, "hi\n", string(filtered))
}

func TestFilterSentinel_NonZeroReturnCode(t *testing.T) {
	frame := []byte("<completed-sentinel-value-137>")
	filtered, code, err := filterSentinel(frame)
	assert.NoError(t, err)
	assert.Equal(t, 137, *code)
	assert.Equal(t, "", string(filtered))
}

func TestFilterSentinel_RejectsInvalidUTF8(t *testing.T) {
	_, _, err := filterSentinel([]byte{0xff, 0xfe})
	assert.Error(t, err)
}

func TestPostProcess_TimeoutErrorOnExitCode124(t *testing.T) {
	code := 124
	sr := streamResultForTest(t, "", "")
	_, err := postProcess(sr, &code, Options{Timeout: 5})
	assert.Error(t, err)
}

func TestPostProcess_PermissionDeniedOnExitCode126(t *testing.T) {
	code := 126
	sr := streamResultForTest(t, "", "bash: /root: Permission denied\n")
	_, err := postProcess(sr, &code, Options{})
	assert.Error(t, err)
}

func TestPostProcess_RunuserMissingUser(t *testing.T) {
	code := 1
	sr := streamResultForTest(t, "", "runuser: user ghost does not exist\n")
	_, err := postProcess(sr, &code, Options{User: "ghost"})
	assert.Error(t, err)
}

func TestPostProcess_SuccessWhenReturnCodeZero(t *testing.T) {
	code := 0
	sr := streamResultForTest(t, "hi\n", "")
	result, err := postProcess(sr, &code, Options{})
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi\n", result.Stdout)
}

func TestPostProcess_NonZeroWithoutUserIsNotAnError(t *testing.T) {
	code := 7
	sr := streamResultForTest(t, "", "")
	result, err := postProcess(sr, &code, Options{})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 7, result.ReturnCode)
}

// The sentinel is only ever observed on stdout; when /bin/sh itself can't be
// found the channel never emits one and Run falls back to ch.ReturnCode(),
// which is the only real-world call site that constructs an
// *podexec.ExecutableNotFoundError. classifyChannelError must classify that
// error the same way regardless of which call site surfaced it.
func TestClassifyChannelError_ExecutableNotFoundFromReturnCode(t *testing.T) {
	err := &podexec.ExecutableNotFoundError{Message: `error finding executable "/bin/sh": not found`}
	got := classifyChannelError(err, "")
	require.Error(t, got)
	assert.True(t, sberr.Is(got, sberr.ErrExecutableNotFound))
}

func TestClassifyChannelError_RunuserNotInstalled(t *testing.T) {
	err := &podexec.ExecutableNotFoundError{Message: `error finding executable "runuser": not found`}
	got := classifyChannelError(err, "alice")
	require.Error(t, got)
	assert.True(t, sberr.Is(got, sberr.ErrInvalidConfiguration))
}

func TestClassifyChannelError_ReturncodeUnavailable(t *testing.T) {
	err := &podexec.ReturncodeUnavailableError{}
	got := classifyChannelError(err, "")
	require.Error(t, got)
	assert.True(t, sberr.Is(got, sberr.ErrReturncodeUnavailable))
}

func TestClassifyChannelError_PassesThroughOtherErrors(t *testing.T) {
	err := assert.AnError
	got := classifyChannelError(err, "")
	assert.Same(t, err, got)
}
