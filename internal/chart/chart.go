// Package chart embeds the bundled default sandbox Helm chart (one pod per
// Compose-style service) and extracts it to a temporary directory on
// demand, since the helm(1) CLI needs a real chart directory on disk.
package chart

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
)

//go:embed default
var defaultChartFS embed.FS

// ExtractDefault copies the embedded default chart into a fresh temporary
// directory and returns its path along with a cleanup function that removes
// it. The caller must always call cleanup.
func ExtractDefault() (string, func(), error) {
	dir, err := os.MkdirTemp("", "inspect-sandbox-chart-*")
	if err != nil {
		return "", func() {}, sberr.Wrap(sberr.ErrRuntime, err, "failed to create temp dir for default chart")
	}
	cleanup := func() { os.RemoveAll(dir) }

	root := "default"
	err = fs.WalkDir(defaultChartFS, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := defaultChartFS.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		cleanup()
		return "", func() {}, sberr.Wrap(sberr.ErrRuntime, err, "failed to extract default chart")
	}
	return dir, cleanup, nil
}
