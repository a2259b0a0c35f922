// Package cluster loads the kubeconfig once per process and vends per-context
// Kubernetes API clients.
package cluster

import (
	"fmt"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/k8s"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// snapshot is a process-wide, lazily-populated view of the kubeconfig file:
// the set of known contexts and the name of the current one. Unlike a plain
// sync.Once, lazySnapshot retries loading on the next access if the first
// attempt failed (e.g. the kubeconfig file did not exist yet at startup).
type snapshot struct {
	config         clientcmdapi.Config
	currentContext string
}

var lazySnapshot k8s.LazySingleton[*snapshot]

func getSnapshot() (*snapshot, error) {
	return lazySnapshot.Get(func() (*snapshot, error) {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		rawConfig, err := loadingRules.Load()
		if err != nil {
			return nil, fmt.Errorf("cluster: failed to load kubeconfig: %w", err)
		}
		return &snapshot{
			config:         *rawConfig,
			currentContext: rawConfig.CurrentContext,
		}, nil
	})
}

// resetSnapshotForTest clears the process-wide snapshot so tests in this
// package can exercise loading it against different kubeconfig fixtures.
func resetSnapshotForTest() {
	lazySnapshot = k8s.LazySingleton[*snapshot]{}
}

// ValidateContext returns an error if name does not refer to a context in the
// kubeconfig file. An empty name always validates (it means "current
// context").
func ValidateContext(name string) error {
	if name == "" {
		return nil
	}
	snap, err := getSnapshot()
	if err != nil {
		return err
	}
	if _, ok := snap.config.Contexts[name]; !ok {
		return fmt.Errorf("cluster: context %q does not exist in kubeconfig", name)
	}
	return nil
}

// CurrentContextName returns the name of the kubeconfig's current context.
func CurrentContextName() (string, error) {
	snap, err := getSnapshot()
	if err != nil {
		return "", err
	}
	if snap.currentContext == "" {
		return "", fmt.Errorf("cluster: no current context set in kubeconfig")
	}
	return snap.currentContext, nil
}

// DefaultNamespace returns the namespace configured for the given context
// (current context if name is empty), defaulting to "default" when the
// context does not specify one.
func DefaultNamespace(name string) (string, error) {
	snap, err := getSnapshot()
	if err != nil {
		return "", err
	}
	resolved := name
	if resolved == "" {
		resolved = snap.currentContext
	}
	ctx, ok := snap.config.Contexts[resolved]
	if !ok {
		return "", fmt.Errorf("cluster: context %q does not exist in kubeconfig", resolved)
	}
	if ctx.Namespace == "" {
		return "default", nil
	}
	return ctx.Namespace, nil
}

// restConfigFor builds a *rest.Config for the given context name (current
// context if empty).
func restConfigFor(name string) (*rest.Config, error) {
	if _, err := getSnapshot(); err != nil {
		return nil, err
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	if name != "" {
		overrides.CurrentContext = name
	}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)
	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("cluster: failed to build rest config for context %q: %w", name, err)
	}
	return restConfig, nil
}

// RestConfigFor exposes restConfigFor to other packages (e.g. podexec, which
// needs the bearer token and TLS config to dial the exec WebSocket directly).
func RestConfigFor(name string) (*rest.Config, error) {
	return restConfigFor(name)
}

// ClientFactory vends Kubernetes API clients keyed by context name. It is
// NOT safe for concurrent use by multiple goroutines; each Pod Op Dispatcher
// worker goroutine owns a private instance so that no client is shared
// across goroutines, mirroring the one-client-per-thread structure of the
// system this was modelled on even though client-go's generated clientset
// itself tolerates concurrent use.
type ClientFactory struct {
	clients map[string]kubernetes.Interface
}

// NewClientFactory creates an empty, goroutine-private client factory.
func NewClientFactory() *ClientFactory {
	return &ClientFactory{clients: make(map[string]kubernetes.Interface)}
}

// ClientFor returns a cached client for the given context name (current
// context if empty), creating one on first use.
func (f *ClientFactory) ClientFor(name string) (kubernetes.Interface, error) {
	if client, ok := f.clients[name]; ok {
		return client, nil
	}
	restConfig, err := restConfigFor(name)
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("cluster: failed to create client for context %q: %w", name, err)
	}
	f.clients[name] = client
	return client, nil
}
