package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsComposeFile(t *testing.T) {
	assert.True(t, IsComposeFile("docker-compose.yaml"))
	assert.True(t, IsComposeFile("compose.yml"))
	assert.False(t, IsComposeFile("values.yaml"))
}

func TestConvert_BasicService(t *testing.T) {
	doc := []byte(`
services:
  default:
    image: python:3.12
    command: python3 server.py
    working_dir: /app
    environment:
      - FOO=bar
`)
	result, err := Convert(doc, "test.yaml")
	require.NoError(t, err)

	services, ok := result["services"].(map[string]any)
	require.True(t, ok)
	svc, ok := services["default"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "python:3.12", svc["image"])
	assert.Equal(t, []string{"python3", "server.py"}, svc["args"])
	assert.Equal(t, "/app", svc["workingDir"])
	assert.Equal(t, true, svc["dnsRecord"])
	env, ok := svc["env"].([]map[string]string)
	require.True(t, ok)
	require.Len(t, env, 1)
	assert.Equal(t, "FOO", env[0]["name"])
	assert.Equal(t, "bar", env[0]["value"])
}

func TestConvert_MissingServicesErrors(t *testing.T) {
	_, err := Convert([]byte(`volumes: {}`), "test.yaml")
	assert.Error(t, err)
}

func TestConvert_UnsupportedTopLevelKeyErrors(t *testing.T) {
	doc := []byte(`
services:
  default:
    image: python:3.12
unsupported_key: true
`)
	_, err := Convert(doc, "test.yaml")
	assert.Error(t, err)
}

func TestConvert_MemLimitConvertsToResources(t *testing.T) {
	doc := []byte(`
services:
  default:
    image: python:3.12
    mem_limit: 512m
`)
	result, err := Convert(doc, "test.yaml")
	require.NoError(t, err)
	services := result["services"].(map[string]any)
	svc := services["default"].(map[string]any)
	resources := svc["resources"].(map[string]any)
	limits := resources["limits"].(map[string]any)
	assert.Equal(t, "512Mi", limits["memory"])
	requests := resources["requests"].(map[string]any)
	assert.Equal(t, "512Mi", requests["memory"])
}

func TestConvert_VolumesAreSanitizedForK8s(t *testing.T) {
	doc := []byte(`
services:
  default:
    image: python:3.12
    volumes:
      - my_vol.1:/data
volumes:
  my_vol.1:
`)
	result, err := Convert(doc, "test.yaml")
	require.NoError(t, err)
	volumes := result["volumes"].(map[string]any)
	_, ok := volumes["my-vol-1"]
	assert.True(t, ok)

	services := result["services"].(map[string]any)
	svc := services["default"].(map[string]any)
	assert.Equal(t, []string{"my-vol-1:/data"}, svc["volumes"])
}

func TestConvert_HealthcheckToReadinessProbe(t *testing.T) {
	doc := []byte(`
services:
  default:
    image: python:3.12
    healthcheck:
      test: ["CMD", "curl", "-f", "http://localhost"]
      interval: 30s
      timeout: 5s
      retries: 2
`)
	result, err := Convert(doc, "test.yaml")
	require.NoError(t, err)
	services := result["services"].(map[string]any)
	svc := services["default"].(map[string]any)
	probe := svc["readinessProbe"].(map[string]any)
	assert.Equal(t, 30, probe["periodSeconds"])
	assert.Equal(t, 5, probe["timeoutSeconds"])
	assert.Equal(t, 3, probe["failureThreshold"])
}

func TestConvertByteValue(t *testing.T) {
	cases := map[string]string{
		"512m": "512Mi",
		"1g":   "1Gi",
		"100k": "100Ki",
		"10b":  "10",
	}
	for in, want := range cases {
		got, err := convertByteValue(in, "")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDurationToSeconds(t *testing.T) {
	got, err := durationToSeconds("1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90, got)
}
