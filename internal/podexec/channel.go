// Package podexec implements a short-lived, per-operation Kubernetes pod-exec
// WebSocket channel. It is built directly on gorilla/websocket rather than
// client-go's remotecommand.Executor because the latter only exposes a
// blocking, whole-stream StreamWithContext call: it does not expose the
// per-frame peek/read needed to detect a sentinel value mid-stream, nor the
// ability to close the socket early while a backgrounded child process keeps
// writing to stdout/stderr.
package podexec

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"k8s.io/client-go/rest"
)

// Channel byte prefixes per the v4.channel.k8s.io subprotocol.
const (
	channelStdin  = 0
	channelStdout = 1
	channelStderr = 2
	channelError  = 3
)

const subprotocol = "v4.channel.k8s.io"

// Options configures the command run over the exec channel.
type Options struct {
	Command []string
	Stdin   bool
	Stdout  bool
	Stderr  bool
	// Binary leaves stdout/stderr undecoded at the transport layer; it has no
	// effect on the wire format here (both are always raw bytes) but mirrors
	// the distinction the system this is modelled on draws between binary and
	// text transfer modes, kept for callers that branch on it.
	Binary bool
}

// Channel is a short-lived, per-operation wrapper around a pod-exec
// WebSocket connection. It must be closed exactly once, on every exit path.
type Channel struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool

	stdoutBuf [][]byte
	stderrBuf [][]byte
	statusRaw []byte
}

// Open dials a pod-exec WebSocket for the given pod/container and returns an
// opened Channel. The caller must call Close on every exit path.
func Open(ctx context.Context, restConfig *rest.Config, namespace, pod, container string, opts Options) (*Channel, error) {
	dialURL, header, err := buildDialRequest(restConfig, namespace, pod, container, opts)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := tlsConfigFor(restConfig)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: 0,
	}

	conn, resp, err := dialer.DialContext(ctx, dialURL.String(), header)
	if err != nil {
		status := ""
		if resp != nil {
			status = resp.Status
		}
		return nil, fmt.Errorf("podexec: failed to open exec channel: %w (response: %s)", err, status)
	}

	return &Channel{conn: conn}, nil
}

func buildDialRequest(restConfig *rest.Config, namespace, pod, container string, opts Options) (*url.URL, http.Header, error) {
	host := restConfig.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, nil, fmt.Errorf("podexec: invalid apiserver host %q: %w", restConfig.Host, err)
	}

	scheme := "wss"
	if base.Scheme == "http" {
		scheme = "ws"
	}

	execURL := &url.URL{
		Scheme: scheme,
		Host:   base.Host,
		Path:   fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/exec", namespace, pod),
	}

	query := url.Values{}
	for _, c := range opts.Command {
		query.Add("command", c)
	}
	if container != "" {
		query.Set("container", container)
	}
	query.Set("stdin", boolParam(opts.Stdin))
	query.Set("stdout", boolParam(opts.Stdout))
	query.Set("stderr", boolParam(opts.Stderr))
	query.Set("tty", "false")
	execURL.RawQuery = query.Encode()

	header := http.Header{}
	if bearer := resolveBearerToken(restConfig); bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}

	return execURL, header, nil
}

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func tlsConfigFor(restConfig *rest.Config) (*tls.Config, error) {
	cfg, err := rest.TLSConfigFor(restConfig)
	if err != nil {
		return nil, fmt.Errorf("podexec: failed to build TLS config: %w", err)
	}
	return cfg, nil
}

// resolveBearerToken returns the bearer token to present to the apiserver,
// preferring an inline token and falling back to BearerTokenFile (used by
// in-cluster service account configs, which refresh the file periodically).
func resolveBearerToken(restConfig *rest.Config) string {
	if restConfig.BearerToken != "" {
		return restConfig.BearerToken
	}
	if restConfig.BearerTokenFile != "" {
		data, err := os.ReadFile(restConfig.BearerTokenFile)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// Write sends data to the pod's stdin.
func (c *Channel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("podexec: write on closed channel")
	}
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, channelStdin)
	frame = append(frame, data...)
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// IsOpen reports whether the channel has not yet been closed.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Poll blocks until a frame is read from the socket and dispatched into the
// appropriate internal buffer, or until ctx is cancelled. A nil-context
// deadline means block indefinitely, matching the blocking update(timeout=None)
// semantics this channel's callers rely on.
func (c *Channel) Poll(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("podexec: poll on closed channel")
	}
	conn := c.conn
	c.mu.Unlock()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			if websocket.IsCloseError(r.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				c.closed = true
				c.mu.Unlock()
				conn.Close()
				return nil
			}
			return r.err
		}
		if len(r.data) == 0 {
			return nil
		}
		prefix, payload := r.data[0], r.data[1:]
		c.mu.Lock()
		switch prefix {
		case channelStdout:
			c.stdoutBuf = append(c.stdoutBuf, payload)
		case channelStderr:
			c.stderrBuf = append(c.stderrBuf, payload)
		case channelError:
			c.statusRaw = payload
		}
		c.mu.Unlock()
		return nil
	}
}

// PeekStdout reports whether unread stdout data is buffered.
func (c *Channel) PeekStdout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stdoutBuf) > 0
}

// PeekStderr reports whether unread stderr data is buffered.
func (c *Channel) PeekStderr() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stderrBuf) > 0
}

// ReadStdout drains and returns all buffered stdout frames.
func (c *Channel) ReadStdout() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return drain(&c.stdoutBuf)
}

// ReadStderr drains and returns all buffered stderr frames.
func (c *Channel) ReadStderr() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return drain(&c.stderrBuf)
}

func drain(buf *[][]byte) []byte {
	total := 0
	for _, chunk := range *buf {
		total += len(chunk)
	}
	out := make([]byte, 0, total)
	for _, chunk := range *buf {
		out = append(out, chunk...)
	}
	*buf = nil
	return out
}

// Close closes the underlying WebSocket connection. It is safe to call
// multiple times; only the first call has effect.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// ReadStatus parses the final status frame received on the error channel. The
// channel must already be closed.
func (c *Channel) ReadStatus() (*Status, error) {
	c.mu.Lock()
	raw := c.statusRaw
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		return nil, fmt.Errorf("podexec: channel must be closed to read status")
	}
	if len(raw) == 0 {
		return nil, &ReturncodeUnavailableError{}
	}
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("podexec: failed to decode status frame: %w", err)
	}
	return &status, nil
}

// ReturnCode extracts the command's exit code from the status frame:
// Success maps to 0; otherwise the causes list is searched
// for an ExitCode entry; a missing shell/runuser binary is reported as
// ExecutableNotFoundError; anything else is ReturncodeUnavailableError.
func (c *Channel) ReturnCode() (int, error) {
	status, err := c.ReadStatus()
	if err != nil {
		return 0, err
	}
	if status.Status == "Success" {
		return 0, nil
	}
	for _, cause := range status.Details.Causes {
		if cause.Reason == "ExitCode" {
			var code int
			if _, err := fmt.Sscanf(cause.Message, "%d", &code); err != nil {
				return 0, &ReturncodeUnavailableError{Status: status}
			}
			return code, nil
		}
	}
	if strings.Contains(status.Message, "error finding executable") {
		return 0, &ExecutableNotFoundError{Message: status.Message}
	}
	return 0, &ReturncodeUnavailableError{Status: status}
}
