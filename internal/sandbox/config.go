package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/cluster"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/release"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
)

// Config is the sample-level sandbox configuration: either a bare values
// file path, or the structured form naming a chart, a values file, and a
// kubeconfig context. The zero value means "use every default".
type Config struct {
	Chart   string
	Values  string
	Context string
}

// ResolvedReleaseConfig is the outcome of validating and defaulting a
// Config against the running environment.
type ResolvedReleaseConfig struct {
	ChartPath    string
	ValuesSource release.ValuesSource
	Context      string
}

// ResolveReleaseConfig validates cfg and fills in defaults: the built-in
// chart when none is given, no values source when none is given, and a
// compose-converting values source when the values filename looks like a
// Compose file (only permitted alongside the default chart).
func ResolveReleaseConfig(cfg Config) (ResolvedReleaseConfig, error) {
	if cfg.Context != "" {
		if err := cluster.ValidateContext(cfg.Context); err != nil {
			return ResolvedReleaseConfig{}, sberr.Wrap(sberr.ErrInvalidConfiguration, err, "invalid kubeconfig context")
		}
	}

	resolved := ResolvedReleaseConfig{
		ChartPath: cfg.Chart,
		Context:   cfg.Context,
	}

	if cfg.Chart != "" {
		info, err := os.Stat(cfg.Chart)
		if err != nil {
			return ResolvedReleaseConfig{}, sberr.Wrap(sberr.ErrInvalidConfiguration, err, fmt.Sprintf("chart path %q does not exist", cfg.Chart))
		}
		if !info.IsDir() {
			return ResolvedReleaseConfig{}, sberr.New(sberr.ErrInvalidConfiguration, fmt.Sprintf("chart path %q is not a directory", cfg.Chart))
		}
	}

	if cfg.Values == "" {
		resolved.ValuesSource = release.NoValues{}
		return resolved, nil
	}

	if _, err := os.Stat(cfg.Values); err != nil {
		return ResolvedReleaseConfig{}, sberr.Wrap(sberr.ErrInvalidConfiguration, err, fmt.Sprintf("values path %q does not exist", cfg.Values))
	}

	if isComposeFilename(cfg.Values) {
		if cfg.Chart != "" {
			return ResolvedReleaseConfig{}, sberr.New(sberr.ErrInvalidConfiguration,
				"a compose values file may only be used with the default chart")
		}
		resolved.ValuesSource = release.ComposeValues{ComposeFile: cfg.Values}
		return resolved, nil
	}

	resolved.ValuesSource = release.StaticValues{Path: cfg.Values}
	return resolved, nil
}

func isComposeFilename(path string) bool {
	name := filepath.Base(path)
	for _, suffix := range []string{"compose.yaml", "compose.yml"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
