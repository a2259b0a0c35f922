// Package release models a single Helm release backing a sandbox sample,
// and a Manager that tracks every release installed within one evaluation
// task so they can all be torn down together.
package release

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/chart"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/cluster"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/compose"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/helmdriver"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/pod"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ValuesSource is a tagged variant with exactly three cases: no values file,
// a static file on disk, or a generated file (e.g. from a compose-to-values
// conversion) that must be cleaned up after use. WithValues is a scoped
// acquire: it returns the path to hand to `helm --values`, and a cleanup
// function the caller must always call, even on error.
type ValuesSource interface {
	WithValues() (path string, cleanup func(), err error)
}

// NoValues is the ValuesSource used when a release has no values file.
type NoValues struct{}

func (NoValues) WithValues() (string, func(), error) { return "", func() {}, nil }

// StaticValues is the ValuesSource backed by a values file already on disk.
type StaticValues struct {
	Path string
}

func (s StaticValues) WithValues() (string, func(), error) { return s.Path, func() {}, nil }

// ComposeValues is the ValuesSource that converts a Docker Compose file to
// Helm values on demand, writing the result to a temporary file that is
// removed once the caller is done with it.
type ComposeValues struct {
	ComposeFile string
}

func (c ComposeValues) WithValues() (string, func(), error) {
	values, err := compose.ConvertFile(c.ComposeFile)
	if err != nil {
		return "", func() {}, sberr.Wrap(sberr.ErrInvalidConfiguration, err, "failed to convert compose file to helm values")
	}
	encoded, err := yaml.Marshal(values)
	if err != nil {
		return "", func() {}, sberr.Wrap(sberr.ErrInvalidConfiguration, err, "failed to encode converted helm values")
	}
	f, err := os.CreateTemp("", "inspect-sandbox-values-*.yaml")
	if err != nil {
		return "", func() {}, sberr.Wrap(sberr.ErrRuntime, err, "failed to create temporary values file")
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, sberr.Wrap(sberr.ErrRuntime, err, "failed to write temporary values file")
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, sberr.Wrap(sberr.ErrRuntime, err, "failed to close temporary values file")
	}
	return f.Name(), cleanup, nil
}

// Release is a single Helm release backing a sandbox sample.
type Release struct {
	TaskName     string
	ReleaseName  string
	ChartPath    string
	ContextName  string
	Namespace    string
	valuesSource ValuesSource
}

// New constructs a Release with a fresh, 8-character lowercase release name
// (it is embedded in pod names too, so kept short).
func New(taskName, chartPath string, values ValuesSource, contextName string) (*Release, error) {
	namespace, err := cluster.DefaultNamespace(contextName)
	if err != nil {
		return nil, sberr.Wrap(sberr.ErrInvalidConfiguration, err, "failed to resolve namespace")
	}
	return &Release{
		TaskName:     taskName,
		ReleaseName:  generateReleaseName(),
		ChartPath:    chartPath,
		ContextName:  contextName,
		Namespace:    namespace,
		valuesSource: values,
	}, nil
}

func generateReleaseName() string {
	id := uuid.New().String()
	return strings.ToLower(strings.ReplaceAll(id, "-", ""))[:8]
}

// Install installs this release via driver, using its values source for the
// duration of the call only. When ChartPath is empty, the bundled default
// chart is extracted to a temporary directory for the duration of the call.
func (r *Release) Install(ctx context.Context, driver *helmdriver.Driver) error {
	valuesPath, cleanupValues, err := r.valuesSource.WithValues()
	if err != nil {
		return err
	}
	defer cleanupValues()

	chartPath := r.ChartPath
	if chartPath == "" {
		extracted, cleanupChart, err := chart.ExtractDefault()
		if err != nil {
			return err
		}
		defer cleanupChart()
		chartPath = extracted
	}

	return driver.Install(ctx, helmdriver.InstallOptions{
		Release:    r.ReleaseName,
		Chart:      chartPath,
		Namespace:  r.Namespace,
		ValuesPath: valuesPath,
		Context:    r.ContextName,
		TaskName:   r.TaskName,
	})
}

// Uninstall uninstalls this release via driver.
func (r *Release) Uninstall(ctx context.Context, driver *helmdriver.Driver, quiet bool) error {
	return driver.Uninstall(ctx, r.ReleaseName, r.Namespace, r.ContextName, quiet)
}

// SandboxPods lists the pods belonging to this release and maps each one
// carrying an `inspect/service` label to a Pod handle keyed by that label's
// value. Pods without the label are not considered sandbox pods.
func (r *Release) SandboxPods(ctx context.Context, client kubernetes.Interface) (map[string]*pod.Pod, error) {
	pods, err := client.CoreV1().Pods(r.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app.kubernetes.io/instance=%s", r.ReleaseName),
	})
	if err != nil {
		return nil, sberr.Wrap(sberr.ErrRuntime, err, fmt.Sprintf("failed to list pods for release %q", r.ReleaseName))
	}
	if len(pods.Items) == 0 {
		return nil, sberr.New(sberr.ErrRuntime, fmt.Sprintf("no pods found for release %q", r.ReleaseName))
	}

	sandboxes := make(map[string]*pod.Pod)
	for _, p := range pods.Items {
		serviceName, ok := p.Labels["inspect/service"]
		if !ok || len(p.Spec.Containers) == 0 {
			continue
		}
		sandboxes[serviceName] = pod.New(pod.Info{
			Name:                 p.Name,
			Namespace:            r.Namespace,
			ContextName:          r.ContextName,
			DefaultContainerName: p.Spec.Containers[0].Name,
		})
	}
	return sandboxes, nil
}

// Manager tracks every release installed within a single evaluation task so
// that task_cleanup can tear them all down together.
type Manager struct {
	mu       sync.Mutex
	releases []*Release
}

// NewManager creates an empty Manager, scoped to one evaluation task.
func NewManager() *Manager {
	return &Manager{}
}

// Install appends release to the tracked list before awaiting install, so a
// failure mid-install still leaves it tracked for later cleanup.
func (m *Manager) Install(ctx context.Context, driver *helmdriver.Driver, r *Release) error {
	m.mu.Lock()
	m.releases = append(m.releases, r)
	m.mu.Unlock()

	return r.Install(ctx, driver)
}

// Uninstall uninstalls release and removes it from the tracked list.
func (m *Manager) Uninstall(ctx context.Context, driver *helmdriver.Driver, r *Release, quiet bool) error {
	if err := r.Uninstall(ctx, driver, quiet); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, tracked := range m.releases {
		if tracked == r {
			m.releases = append(m.releases[:i], m.releases[i+1:]...)
			break
		}
	}
	return nil
}

// UninstallAll tears down every tracked release. If printOnly is true, it
// instead prints cleanup instructions and leaves the tracked list unchanged.
// Otherwise the list is snapshotted and cleared up front (so a reentrant
// call is a no-op), and every release is uninstalled concurrently; an
// individual failure does not stop the others, and the failures are
// returned together once every uninstall has finished.
func (m *Manager) UninstallAll(ctx context.Context, driver *helmdriver.Driver, printOnly bool) []error {
	m.mu.Lock()
	if len(m.releases) == 0 {
		m.mu.Unlock()
		return nil
	}
	if printOnly {
		snapshot := append([]*Release(nil), m.releases...)
		m.mu.Unlock()
		PrintCleanupInstructions(snapshot)
		return nil
	}
	snapshot := m.releases
	m.releases = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(snapshot))
	for i, r := range snapshot {
		wg.Add(1)
		go func(i int, r *Release) {
			defer wg.Done()
			errs[i] = r.Uninstall(ctx, driver, false)
		}(i, r)
	}
	wg.Wait()

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

// Tracked returns a snapshot of the currently tracked releases.
func (m *Manager) Tracked() []*Release {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Release(nil), m.releases...)
}
