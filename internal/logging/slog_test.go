package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHost(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{
			name:     "empty host",
			host:     "",
			expected: "<empty>",
		},
		{
			name:     "hostname without IP",
			host:     "https://api.cluster.example.com:6443",
			expected: "https://api.cluster.example.com:6443",
		},
		{
			name:     "IP address URL",
			host:     "https://192.168.1.100:6443",
			expected: "https://<redacted-ip>:6443",
		},
		{
			name:     "bare IP address",
			host:     "192.168.1.100",
			expected: "<redacted-ip>",
		},
		{
			name:     "IP with port no scheme",
			host:     "10.0.0.1:6443",
			expected: "<redacted-ip>:6443",
		},
		// IPv6 tests
		{
			name:     "IPv6 address URL with brackets",
			host:     "https://[2001:db8::1]:6443",
			expected: "https://<redacted-ip>:6443",
		},
		{
			name:     "bare IPv6 address",
			host:     "2001:db8::1",
			expected: "<redacted-ip>",
		},
		{
			name:     "IPv6 with brackets no scheme",
			host:     "[2001:db8:85a3::8a2e:370:7334]:6443",
			expected: "<redacted-ip>:6443",
		},
		{
			name:     "full IPv6 address",
			host:     "2001:0db8:85a3:0000:0000:8a2e:0370:7334",
			expected: "<redacted-ip>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeHost(tt.host)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected string
	}{
		{
			name:     "empty token",
			token:    "",
			expected: "<empty>",
		},
		{
			name:     "short token",
			token:    "abc",
			expected: "[token:3 chars]",
		},
		{
			name:     "exactly 4 chars",
			token:    "abcd",
			expected: "[token:4 chars]",
		},
		{
			name:     "normal token",
			token:    "eyJhbGciOiJSUzI1NiIsImtpZCI6...",
			expected: "[token:31 chars]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeToken(tt.token)
			assert.Equal(t, tt.expected, result)
		})
	}

	t.Run("no token prefix leaked", func(t *testing.T) {
		token := "eyJhbGciOiJSUzI1NiIsImtpZCI6..." //nolint:gosec // Test token, not a real credential
		result := SanitizeToken(token)
		assert.NotContains(t, result, "eyJ", "token prefix should not be leaked")
		assert.NotContains(t, result, token[:4], "any token content should not be leaked")
	})
}

func TestSlogAttributes(t *testing.T) {
	t.Run("Operation", func(t *testing.T) {
		attr := Operation("exec")
		assert.Equal(t, KeyOperation, attr.Key)
		assert.Equal(t, "exec", attr.Value.String())
	})

	t.Run("Namespace", func(t *testing.T) {
		attr := Namespace("inspect-abc12345")
		assert.Equal(t, KeyNamespace, attr.Key)
		assert.Equal(t, "inspect-abc12345", attr.Value.String())
	})

	t.Run("Pod", func(t *testing.T) {
		attr := Pod("agent-env-0")
		assert.Equal(t, KeyPod, attr.Key)
		assert.Equal(t, "agent-env-0", attr.Value.String())
	})

	t.Run("Release", func(t *testing.T) {
		attr := Release("abc12345")
		assert.Equal(t, KeyRelease, attr.Key)
		assert.Equal(t, "abc12345", attr.Value.String())
	})

	t.Run("Chart", func(t *testing.T) {
		attr := Chart("./compose")
		assert.Equal(t, KeyChart, attr.Key)
		assert.Equal(t, "./compose", attr.Value.String())
	})

	t.Run("Context", func(t *testing.T) {
		attr := Context("eval-cluster")
		assert.Equal(t, KeyContext, attr.Key)
		assert.Equal(t, "eval-cluster", attr.Value.String())
	})

	t.Run("Task", func(t *testing.T) {
		attr := Task("ctf-sample-17")
		assert.Equal(t, KeyTask, attr.Key)
		assert.Equal(t, "ctf-sample-17", attr.Value.String())
	})

	t.Run("Status", func(t *testing.T) {
		attr := Status(StatusSuccess)
		assert.Equal(t, KeyStatus, attr.Key)
		assert.Equal(t, StatusSuccess, attr.Value.String())
	})

	t.Run("Err with nil", func(t *testing.T) {
		attr := Err(nil)
		assert.Equal(t, KeyError, attr.Key)
		assert.Equal(t, "", attr.Value.String())
	})

	t.Run("Err with error", func(t *testing.T) {
		testErr := fmt.Errorf("test error message")
		attr := Err(testErr)
		assert.Equal(t, KeyError, attr.Key)
		assert.Equal(t, "test error message", attr.Value.String())
	})

	t.Run("SanitizedErr with nil", func(t *testing.T) {
		attr := SanitizedErr(nil)
		assert.Equal(t, KeyError, attr.Key)
		assert.Equal(t, "", attr.Value.String())
	})

	t.Run("SanitizedErr with IP in error message", func(t *testing.T) {
		testErr := fmt.Errorf("failed to connect to https://192.168.1.100:6443: connection refused")
		attr := SanitizedErr(testErr)
		assert.Equal(t, KeyError, attr.Key)
		assert.NotContains(t, attr.Value.String(), "192.168.1.100", "IP address should be sanitized")
		assert.Contains(t, attr.Value.String(), "<redacted-ip>", "IP should be replaced with redacted marker")
		assert.Contains(t, attr.Value.String(), "connection refused", "rest of error should be preserved")
	})

	t.Run("SanitizedErr with hostname only", func(t *testing.T) {
		testErr := fmt.Errorf("failed to connect to https://api.cluster.example.com:6443")
		attr := SanitizedErr(testErr)
		assert.Equal(t, KeyError, attr.Key)
		assert.Contains(t, attr.Value.String(), "api.cluster.example.com", "hostname should be preserved")
	})

	t.Run("Host", func(t *testing.T) {
		attr := Host("https://192.168.1.1:6443")
		assert.Equal(t, KeyHost, attr.Key)
		assert.NotContains(t, attr.Value.String(), "192.168")
	})
}

func TestWithOperationLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)

	opLogger := WithOperation(logger, "exec")
	opLogger.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "operation")
	assert.Contains(t, output, "exec")
}

func TestWithTaskLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)

	taskLogger := WithTask(logger, "ctf-sample-17")
	taskLogger.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "task")
	assert.Contains(t, output, "ctf-sample-17")
}

func TestWithPodLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)

	podLogger := WithPod(logger, "agent-env-0", "inspect-abc12345")
	podLogger.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "pod")
	assert.Contains(t, output, "agent-env-0")
	assert.Contains(t, output, "inspect-abc12345")
}
