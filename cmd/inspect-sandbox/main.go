// Command inspect-sandbox manages the lifecycle of Kubernetes sandbox
// environments used by the Inspect agent-evaluation harness.
//
// The harness itself drives sandbox creation and teardown through the
// sandbox package directly; this binary exists for operators to inspect
// and clean up sandboxes out-of-band, typically after an evaluation
// process was killed before it could run its own cleanup.
package main

import (
	"log/slog"
	"os"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/cmd"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("INSPECT_SANDBOX_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	cmd.SetVersion(version)
	cmd.Execute()
}
