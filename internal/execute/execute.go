// Package execute runs commands inside a sandbox pod over a raw exec
// channel, using a sentinel-terminated shell script rather than relying on
// the pod-exec protocol's own stream-close semantics (backgrounded child
// processes can hold stdout/stderr open indefinitely).
package execute

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/buffer"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/podexec"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
	"k8s.io/client-go/rest"
)

const (
	sentinelName = "completed-sentinel-value"

	// MaxOutputSize bounds stdout/stderr accumulation per exec call.
	MaxOutputSize = 10 * 1024 * 1024

	execUserDocsURL = "https://k8s-sandbox.aisi.org.uk/design/limitations#exec-user"
)

var sentinelPattern = regexp.MustCompile(`<` + sentinelName + `-(\d+)>`)

// Options describes a single exec invocation.
type Options struct {
	Command  []string
	Stdin    []byte
	HasStdin bool
	Cwd      string
	Env      map[string]string
	User     string
	Timeout  int // seconds, 0 means no timeout
}

// Result is the outcome of an exec invocation.
type Result struct {
	Success    bool
	ReturnCode int
	Stdout     string
	Stderr     string
}

// Run executes opts.Command inside the pod identified by namespace/pod/
// container, via a fresh pod-exec channel running /bin/sh (or
// `runuser -u <user> /bin/sh` when opts.User is set).
func Run(ctx context.Context, restConfig *rest.Config, namespace, pod, container string, opts Options) (Result, error) {
	shellCmd := []string{"/bin/sh"}
	if opts.User != "" {
		shellCmd = append([]string{"runuser", "-u", opts.User}, shellCmd...)
	}

	ch, err := podexec.Open(ctx, restConfig, namespace, pod, container, podexec.Options{
		Command: shellCmd,
		Stdin:   true,
		Stdout:  true,
		Stderr:  true,
		Binary:  true,
	})
	if err != nil {
		return Result{}, classifyChannelError(err, opts.User)
	}
	defer ch.Close()

	script := buildShellScript(opts)
	if err := ch.Write([]byte(script)); err != nil {
		return Result{}, err
	}

	result, err := streamOutput(ctx, ch)
	if err != nil {
		return Result{}, err
	}

	returnCode := result.returnCode
	if returnCode == nil {
		// The sentinel was never observed, e.g. a `cd` in the script failed
		// before the user command ran. Fall back to the channel's own status
		// frame, which requires the channel to already be closed.
		if ch.IsOpen() {
			if err := ch.Close(); err != nil {
				return Result{}, err
			}
		}
		code, err := ch.ReturnCode()
		if err != nil {
			return Result{}, classifyChannelError(err, opts.User)
		}
		returnCode = &code
	}

	return postProcess(result, returnCode, opts)
}

// classifyChannelError is the single place both the initial podexec.Open
// call and the ch.ReturnCode() status-frame fallback route their errors
// through, so an *podexec.ExecutableNotFoundError or
// *podexec.ReturncodeUnavailableError is classified into an *sberr.Error the
// Facade's classify() can recognize via sberr.Is, no matter which of those
// two call sites actually observed it.
func classifyChannelError(err error, user string) error {
	var notFound *podexec.ExecutableNotFoundError
	if errors.As(err, &notFound) {
		return classifyShellNotFound(notFound, user)
	}
	var unavailable *podexec.ReturncodeUnavailableError
	if errors.As(err, &unavailable) {
		return sberr.Wrap(sberr.ErrReturncodeUnavailable, err, "exec channel closed without a usable return code")
	}
	return err
}

func classifyShellNotFound(err *podexec.ExecutableNotFoundError, user string) error {
	if strings.Contains(err.Message, `error finding executable "runuser"`) {
		return sberr.New(sberr.ErrInvalidConfiguration, fmt.Sprintf(
			"user %q was requested but the runuser binary is not installed in the container. Docs: %s",
			user, execUserDocsURL))
	}
	return sberr.Wrap(sberr.ErrExecutableNotFound, err, "shell not found in container")
}

func buildShellScript(opts Options) string {
	var b strings.Builder
	if opts.Cwd != "" {
		fmt.Fprintf(&b, "cd %s || exit $?\n", shellQuote(opts.Cwd))
	}
	for k, v := range opts.Env {
		fmt.Fprintf(&b, "export %s=%s\n", shellQuote(k), shellQuote(v))
	}
	if opts.HasStdin {
		encoded := base64.StdEncoding.EncodeToString(opts.Stdin)
		fmt.Fprintf(&b, "echo '%s' | base64 -d | ", encoded)
	}
	if opts.Timeout > 0 {
		fmt.Fprintf(&b, "timeout -k 5s %ds ", opts.Timeout)
	}
	b.WriteString(shellJoin(opts.Command))
	b.WriteString("\n")
	b.WriteString("returncode=$?\n")
	b.WriteString("sync\n")
	fmt.Fprintf(&b, "echo -n \"<%s-$returncode>\"\n", sentinelName)
	b.WriteString("exit $returncode\n")
	return b.String()
}

// shellQuote produces a POSIX-shell single-quoted literal, the same
// minimal-escaping approach Python's shlex.quote takes: wrap in single
// quotes, escaping any embedded single quote as '\''.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

type streamResult struct {
	returnCode *int
	stdout     *buffer.Bounded
	stderr     *buffer.Bounded
}

func streamOutput(ctx context.Context, ch *podexec.Channel) (streamResult, error) {
	stdout := buffer.NewBounded(MaxOutputSize)
	stderr := buffer.NewBounded(MaxOutputSize)
	var returnCode *int

	for ch.IsOpen() {
		if err := ch.Poll(ctx); err != nil {
			return streamResult{}, err
		}
		if ch.PeekStderr() {
			stderr.Append(ch.ReadStderr())
		}
		// stdout is handled after stderr so a sentinel that arrives while
		// stderr is still pending is only acted on once stderr has drained.
		if ch.PeekStdout() {
			frame := ch.ReadStdout()
			filtered, code, err := filterSentinel(frame)
			if err != nil {
				return streamResult{}, sberr.Wrap(sberr.ErrDecoding, err, "exec output was not valid utf-8")
			}
			stdout.Append(filtered)
			if code != nil {
				returnCode = code
				ch.Close()
			}
		}
		if stdout.Truncated || stderr.Truncated {
			return streamResult{}, outputLimitError(stdout, stderr)
		}
	}

	return streamResult{returnCode: returnCode, stdout: stdout, stderr: stderr}, nil
}

func outputLimitError(stdout, stderr *buffer.Bounded) error {
	prefix, _ := stdout.DecodeString()
	errPrefix, _ := stderr.DecodeString()
	return sberr.New(sberr.ErrOutputLimitExceeded, fmt.Sprintf(
		"exec output exceeded %d bytes; truncated prefix captured (stdout %d bytes, stderr %d bytes)",
		MaxOutputSize, len(prefix), len(errPrefix))).
		WithContext("stdout", prefix).WithContext("stderr", errPrefix)
}

// filterSentinel strips a sentinel marker from a stdout frame, returning the
// remaining bytes and the parsed return code. A frame is assumed to carry at
// most one sentinel, never split across frames.
func filterSentinel(frame []byte) ([]byte, *int, error) {
	decoded, err := decodeStrictUTF8(frame)
	if err != nil {
		return nil, nil, err
	}
	loc := sentinelPattern.FindStringSubmatchIndex(decoded)
	if loc == nil {
		return frame, nil, nil
	}
	code, err := strconv.Atoi(decoded[loc[2]:loc[3]])
	if err != nil {
		return frame, nil, nil
	}
	filtered := decoded[:loc[0]] + decoded[loc[1]:]
	return []byte(filtered), &code, nil
}

func decodeStrictUTF8(data []byte) (string, error) {
	tmp := buffer.NewBounded(len(data))
	tmp.Append(data)
	return tmp.DecodeString()
}

func postProcess(sr streamResult, returnCodePtr *int, opts Options) (Result, error) {
	returnCode := *returnCodePtr
	stdout, err := sr.stdout.DecodeString()
	if err != nil {
		return Result{}, sberr.Wrap(sberr.ErrDecoding, err, "stdout was not valid utf-8")
	}
	stderr, err := sr.stderr.DecodeString()
	if err != nil {
		return Result{}, sberr.Wrap(sberr.ErrDecoding, err, "stderr was not valid utf-8")
	}

	result := Result{
		Success:    returnCode == 0,
		ReturnCode: returnCode,
		Stdout:     stdout,
		Stderr:     stderr,
	}

	if opts.Timeout > 0 && returnCode == 124 {
		return result, sberr.New(sberr.ErrCommandTimeout, fmt.Sprintf(
			"command timed out after %ds", opts.Timeout))
	}
	if returnCode == 126 && strings.Contains(strings.ToLower(stderr), "permission denied") {
		return result, sberr.New(sberr.ErrPermissionDenied, "permission denied executing command")
	}
	if returnCode != 0 && opts.User != "" {
		if err := checkRunuserError(stderr, opts.User); err != nil {
			return result, err
		}
	}
	return result, nil
}

var runuserMissingPattern = regexp.MustCompile(`(?i)runuser: user \S+ does not exist`)

func checkRunuserError(stderr, user string) error {
	if runuserMissingPattern.MatchString(stderr) {
		return sberr.New(sberr.ErrInvalidConfiguration, fmt.Sprintf(
			"user %q does not appear to exist in the container. Docs: %s", user, execUserDocsURL))
	}
	if strings.Contains(strings.ToLower(stderr), "runuser: may not be used by non-root users") {
		return sberr.New(sberr.ErrInvalidConfiguration, fmt.Sprintf(
			"user %q was requested but the container is not running as root. Docs: %s", user, execUserDocsURL))
	}
	return nil
}
