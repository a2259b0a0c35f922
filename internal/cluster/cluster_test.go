package cluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKubeconfig = `
apiVersion: v1
kind: Config
current-context: dev
clusters:
- name: dev-cluster
  cluster:
    server: https://dev.example.com
- name: prod-cluster
  cluster:
    server: https://prod.example.com
contexts:
- name: dev
  context:
    cluster: dev-cluster
    namespace: dev-ns
- name: prod
  context:
    cluster: prod-cluster
users:
- name: dev-user
  user:
    token: dev-token
`

func withTestKubeconfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kubeconfig")
	require.NoError(t, os.WriteFile(path, []byte(testKubeconfig), 0o600))

	original, hadOriginal := os.LookupEnv("KUBECONFIG")
	require.NoError(t, os.Setenv("KUBECONFIG", path))
	resetSnapshotForTest()

	t.Cleanup(func() {
		if hadOriginal {
			os.Setenv("KUBECONFIG", original)
		} else {
			os.Unsetenv("KUBECONFIG")
		}
		resetSnapshotForTest()
	})
}

func TestCurrentContextName(t *testing.T) {
	withTestKubeconfig(t)

	name, err := CurrentContextName()
	require.NoError(t, err)
	assert.Equal(t, "dev", name)
}

func TestValidateContext_Known(t *testing.T) {
	withTestKubeconfig(t)

	assert.NoError(t, ValidateContext("dev"))
	assert.NoError(t, ValidateContext("prod"))
}

func TestValidateContext_Empty(t *testing.T) {
	withTestKubeconfig(t)

	assert.NoError(t, ValidateContext(""))
}

func TestValidateContext_Unknown(t *testing.T) {
	withTestKubeconfig(t)

	err := ValidateContext("staging")
	assert.Error(t, err)
}

func TestDefaultNamespace_FromContext(t *testing.T) {
	withTestKubeconfig(t)

	ns, err := DefaultNamespace("dev")
	require.NoError(t, err)
	assert.Equal(t, "dev-ns", ns)
}

func TestDefaultNamespace_DefaultsWhenUnset(t *testing.T) {
	withTestKubeconfig(t)

	ns, err := DefaultNamespace("prod")
	require.NoError(t, err)
	assert.Equal(t, "default", ns)
}

func TestDefaultNamespace_CurrentContextWhenEmpty(t *testing.T) {
	withTestKubeconfig(t)

	ns, err := DefaultNamespace("")
	require.NoError(t, err)
	assert.Equal(t, "dev-ns", ns)
}

func TestDefaultNamespace_UnknownContext(t *testing.T) {
	withTestKubeconfig(t)

	_, err := DefaultNamespace("staging")
	assert.Error(t, err)
}

func TestSnapshotLoadedOnce(t *testing.T) {
	withTestKubeconfig(t)

	snap1, err := getSnapshot()
	require.NoError(t, err)
	snap2, err := getSnapshot()
	require.NoError(t, err)
	assert.Same(t, snap1, snap2)
}

func TestClientFactory_CachesPerContext(t *testing.T) {
	withTestKubeconfig(t)

	factory := NewClientFactory()
	client1, err := factory.ClientFor("dev")
	require.NoError(t, err)
	client2, err := factory.ClientFor("dev")
	require.NoError(t, err)
	assert.Same(t, client1, client2)
}

func TestClientFactory_DistinctPerContext(t *testing.T) {
	withTestKubeconfig(t)

	factory := NewClientFactory()
	devClient, err := factory.ClientFor("dev")
	require.NoError(t, err)
	prodClient, err := factory.ClientFor("prod")
	require.NoError(t, err)
	assert.NotSame(t, devClient, prodClient)
}
