// Package fileio streams files into and out of a sandbox pod over a raw
// exec channel, reusing head(1) on the remote side as a bound on how much
// data the shell command will ever produce or consume.
package fileio

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/buffer"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/podexec"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
	"k8s.io/client-go/rest"
)

// MaxReadFileSize bounds how much of a remote file ReadFile will stream back.
const MaxReadFileSize = 100 * 1024 * 1024

// maxStderrSize bounds the stderr buffer.Bounded the read/write helpers keep, kept
// equal to the exec output cap since these commands produce little stderr.
const maxStderrSize = 10 * 1024 * 1024

const writeChunkSize = 1024 * 1024 // 1 MiB, larger writes see TLS-stream EOF

// ReadFile streams the contents of the remote path src into dst, raising
// sberr.ErrOutputLimitExceeded if more than MaxReadFileSize bytes arrive.
func ReadFile(ctx context.Context, restConfig *rest.Config, namespace, pod, container, src string, dst io.Writer) error {
	ch, err := podexec.Open(ctx, restConfig, namespace, pod, container, podexec.Options{
		Command: []string{"head", "-c", strconv.Itoa(MaxReadFileSize + 1), src},
		Stdout:  true,
		Stderr:  true,
		Binary:  true,
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	stderr := buffer.NewBounded(maxStderrSize)
	written := 0
	for ch.IsOpen() {
		if err := ch.Poll(ctx); err != nil {
			return err
		}
		if ch.PeekStdout() {
			chunk := ch.ReadStdout()
			if _, err := dst.Write(chunk); err != nil {
				return err
			}
			written += len(chunk)
			if written > MaxReadFileSize {
				return sberr.New(sberr.ErrOutputLimitExceeded, fmt.Sprintf(
					"file at %q exceeds the %d byte read limit", src, MaxReadFileSize))
			}
		}
		if ch.PeekStderr() {
			stderr.Append(ch.ReadStderr())
		}
	}

	if err := ch.Close(); err != nil {
		return err
	}
	returnCode, err := ch.ReturnCode()
	if err != nil {
		return err
	}
	if returnCode != 0 {
		stderrStr, _ := stderr.DecodeString()
		return classifyReadWriteError(stderrStr, returnCode)
	}
	return nil
}

// WriteFile streams src (whose total length must be determinable via Seek)
// to the remote path dst, creating parent directories as needed.
func WriteFile(ctx context.Context, restConfig *rest.Config, namespace, pod, container string, src io.ReadSeeker, dst string) error {
	size, err := seekSize(src)
	if err != nil {
		return err
	}

	parent := posixDir(dst)
	script := fmt.Sprintf("mkdir -p %s && head -c %d > %s",
		shellQuote(parent), size, shellQuote(dst))

	ch, err := podexec.Open(ctx, restConfig, namespace, pod, container, podexec.Options{
		Command: []string{"/bin/sh", "-c", script},
		Stdin:   true,
		Stdout:  true,
		Stderr:  true,
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := streamChunks(ch, src); err != nil {
		return err
	}

	stderr := buffer.NewBounded(maxStderrSize)
	for ch.IsOpen() {
		if err := ch.Poll(ctx); err != nil {
			return err
		}
		if ch.PeekStderr() {
			stderr.Append(ch.ReadStderr())
		}
		if ch.PeekStdout() {
			ch.ReadStdout()
		}
	}

	if err := ch.Close(); err != nil {
		return err
	}
	returnCode, err := ch.ReturnCode()
	if err != nil {
		return err
	}
	if returnCode != 0 {
		stderrStr, _ := stderr.DecodeString()
		return classifyReadWriteError(stderrStr, returnCode)
	}
	return nil
}

// stdinWriter is the subset of *podexec.Channel streamChunks needs; it
// exists so tests can exercise the chunking logic without a live channel.
type stdinWriter interface {
	Write(data []byte) error
}

func streamChunks(ch stdinWriter, src io.Reader) error {
	buf := make([]byte, writeChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if writeErr := ch.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func seekSize(src io.ReadSeeker) (int64, error) {
	original, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := src.Seek(original, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

func posixDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// classifyReadWriteError maps known stderr patterns from head/mkdir failures
// onto the expected error kinds; anything else is reported as ErrPodError.
func classifyReadWriteError(stderr string, returnCode int) error {
	folded := strings.ToLower(stderr)
	switch {
	case strings.Contains(folded, "no such file or directory"):
		return sberr.New(sberr.ErrNotFound, stderr)
	case strings.Contains(folded, "permission denied"):
		return sberr.New(sberr.ErrPermissionDenied, stderr)
	case strings.Contains(folded, "is a directory"):
		return sberr.New(sberr.ErrIsADirectory, stderr)
	default:
		return sberr.New(sberr.ErrPodError, fmt.Sprintf(
			"unrecognised error (exit %d): %s", returnCode, stderr))
	}
}
