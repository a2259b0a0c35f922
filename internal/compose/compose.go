// Package compose converts a Docker Compose file into the Helm values
// expected by the sandbox provider's built-in chart, so that a task author
// can describe their sandbox environment in Compose syntax instead of Helm
// values directly.
package compose

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Error is raised when a Compose file cannot be converted, either because it
// fails basic structural checks or because it uses a construct this
// converter does not support.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func errorf(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// IsComposeFile infers whether a file is a Docker Compose file from its name.
func IsComposeFile(name string) bool {
	return strings.HasSuffix(name, "compose.yaml") || strings.HasSuffix(name, "compose.yml")
}

// ConvertFile reads path and converts it to Helm values.
func ConvertFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorf("failed to read compose file %q: %v", path, err)
	}
	return Convert(data, path)
}

// Convert converts the Docker Compose document in data to Helm values. path
// is used only to make error messages more useful.
func Convert(data []byte, path string) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errorf("failed to parse compose file %q: %v", path, err)
	}

	result := make(map[string]any)

	servicesRaw, ok := doc["services"]
	if !ok {
		return nil, errorf("the 'services' key is required. Compose file: %q", path)
	}
	delete(doc, "services")
	services, err := asStringMap(servicesRaw, "services", path)
	if err != nil {
		return nil, err
	}
	convertedServices, err := convertServices(services, path)
	if err != nil {
		return nil, err
	}
	result["services"] = convertedServices

	if volumesRaw, ok := doc["volumes"]; ok {
		delete(doc, "volumes")
		volumes, err := asStringMap(volumesRaw, "volumes", path)
		if err != nil {
			return nil, err
		}
		converted, err := convertVolumes(volumes, path)
		if err != nil {
			return nil, err
		}
		result["volumes"] = converted
	}

	if extRaw, ok := doc["x-inspect_k8s_sandbox"]; ok {
		delete(doc, "x-inspect_k8s_sandbox")
		ext, err := asStringMap(extRaw, "x-inspect_k8s_sandbox", path)
		if err != nil {
			return nil, err
		}
		if err := convertExtensions(ext, result, path); err != nil {
			return nil, err
		}
	}

	delete(doc, "version")
	if len(doc) > 0 {
		return nil, errorf("unsupported top-level key(s) in Docker Compose file: %s. Compose file: %q", keysOf(doc), path)
	}
	return result, nil
}

func convertServices(src map[string]any, path string) (map[string]any, error) {
	result := make(map[string]any, len(src))
	for name, raw := range src {
		service, err := asStringMap(raw, "service", path)
		if err != nil {
			return nil, err
		}
		c := &serviceConverter{name: name, src: service, path: path}
		converted, err := c.convert()
		if err != nil {
			return nil, err
		}
		result[name] = converted
	}
	return result, nil
}

func convertVolumes(src map[string]any, path string) (map[string]any, error) {
	result := make(map[string]any, len(src))
	for name, value := range src {
		if value != nil {
			return nil, errorf("unsupported volume value: %v. Converting non-empty volume values is not supported. Compose file: %q", value, path)
		}
		result[k8sCompliantVolumeName(name)] = map[string]any{}
	}
	return result, nil
}

func convertExtensions(ext map[string]any, result map[string]any, path string) error {
	if allowDomainsRaw, ok := ext["allow_domains"]; ok {
		delete(ext, "allow_domains")
		list, ok := allowDomainsRaw.([]any)
		if !ok {
			return errorf("invalid 'allow_domains' type: %T. Expected list. Compose file: %q", allowDomainsRaw, path)
		}
		result["allowDomains"] = list
	}
	if len(ext) > 0 {
		return errorf("unsupported key(s) in 'x-inspect_k8s_sandbox': %s. Compose file: %q", keysOf(ext), path)
	}
	return nil
}

// serviceConverter converts a single Compose service definition into the
// equivalent built-in chart service values. src is mutated as fields are
// consumed, so that any fields left over at the end are reported as
// unsupported.
type serviceConverter struct {
	name string
	src  map[string]any
	path string
}

func (c *serviceConverter) context() string {
	return fmt.Sprintf("Service: %q; Compose file: %q.", c.name, c.path)
}

func (c *serviceConverter) convert() (map[string]any, error) {
	result := make(map[string]any)

	transformString(c.src, "runtime", result, "runtimeClassName")
	transformString(c.src, "image", result, "image")
	if err := c.transformStrOrList("entrypoint", result, "command"); err != nil {
		return nil, err
	}
	if err := c.transformStrOrList("command", result, "args"); err != nil {
		return nil, err
	}
	transformString(c.src, "working_dir", result, "workingDir")
	result["dnsRecord"] = true

	if envRaw, ok := c.src["environment"]; ok {
		delete(c.src, "environment")
		env, err := c.convertEnv(envRaw)
		if err != nil {
			return nil, err
		}
		result["env"] = env
	}
	if volumesRaw, ok := c.src["volumes"]; ok {
		delete(c.src, "volumes")
		volumes, err := c.convertServiceVolumes(volumesRaw)
		if err != nil {
			return nil, err
		}
		result["volumes"] = volumes
	}
	if hcRaw, ok := c.src["healthcheck"]; ok {
		delete(c.src, "healthcheck")
		hc, err := asStringMap(hcRaw, "healthcheck", c.path)
		if err != nil {
			return nil, err
		}
		probe, err := c.healthcheckToReadinessProbe(hc)
		if err != nil {
			return nil, err
		}
		result["readinessProbe"] = probe
	}

	var memLimit string
	if raw, ok := c.src["mem_limit"]; ok {
		delete(c.src, "mem_limit")
		memLimit = fmt.Sprintf("%v", raw)
	}
	deployRaw := c.src["deploy"]
	delete(c.src, "deploy")
	deploy, err := asStringMapOrEmpty(deployRaw, "deploy", c.path)
	if err != nil {
		return nil, err
	}
	if err := c.convertDeploy(deploy, memLimit, result); err != nil {
		return nil, err
	}

	if userRaw, ok := c.src["user"]; ok {
		delete(c.src, "user")
		sc, err := c.userToSecurityContext(userRaw)
		if err != nil {
			return nil, err
		}
		result["securityContext"] = sc
	}

	delete(c.src, "expose")
	delete(c.src, "init")

	if len(c.src) > 0 {
		return nil, errorf("unsupported key(s) in 'service': %s. %s", keysOf(c.src), c.context())
	}
	return result, nil
}

func (c *serviceConverter) transformStrOrList(srcKey string, dst map[string]any, dstKey string) error {
	raw, ok := c.src[srcKey]
	if !ok {
		return nil
	}
	delete(c.src, srcKey)
	switch v := raw.(type) {
	case string:
		dst[dstKey] = strings.Fields(v)
	case []any:
		dst[dstKey] = v
	default:
		return errorf("invalid %q type: %T. %s", srcKey, raw, c.context())
	}
	return nil
}

func (c *serviceConverter) convertEnv(raw any) ([]map[string]string, error) {
	var result []map[string]string
	switch v := raw.(type) {
	case map[string]any:
		for key, value := range v {
			result = append(result, map[string]string{"name": key, "value": fmt.Sprintf("%v", value)})
		}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok || !strings.Contains(s, "=") {
				return nil, errorf("invalid environment variable: %v. Expected list items to contain '='. %s", item, c.context())
			}
			parts := strings.SplitN(s, "=", 2)
			result = append(result, map[string]string{"name": parts[0], "value": parts[1]})
		}
	default:
		return nil, errorf("invalid 'environment' format. Expected map or list but got %T. %s", raw, c.context())
	}
	return result, nil
}

func (c *serviceConverter) convertServiceVolumes(raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, errorf("invalid 'volumes' type: %T. Expected list. %s", raw, c.context())
	}
	result := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || !strings.Contains(s, ":") {
			return nil, errorf("invalid service volume: %v. Expected list items to contain ':'. %s", item, c.context())
		}
		parts := strings.SplitN(s, ":", 2)
		result = append(result, fmt.Sprintf("%s:%s", k8sCompliantVolumeName(parts[0]), parts[1]))
	}
	return result, nil
}

func (c *serviceConverter) healthcheckToReadinessProbe(src map[string]any) (map[string]any, error) {
	result := make(map[string]any)
	testRaw, ok := src["test"]
	if !ok {
		return nil, errorf("'healthcheck' is missing required key 'test'. %s", c.context())
	}
	delete(src, "test")
	exec, err := c.healthcheckTestToExec(testRaw)
	if err != nil {
		return nil, err
	}
	result["exec"] = exec

	if err := c.transformDuration(src, "start_period", result, "initialDelaySeconds"); err != nil {
		return nil, err
	}
	if err := c.transformDuration(src, "interval", result, "periodSeconds"); err != nil {
		return nil, err
	}
	if err := c.transformDuration(src, "timeout", result, "timeoutSeconds"); err != nil {
		return nil, err
	}
	if retriesRaw, ok := src["retries"]; ok {
		delete(src, "retries")
		retries, err := asInt(retriesRaw)
		if err != nil {
			return nil, errorf("invalid 'retries' value: %v. %s", retriesRaw, c.context())
		}
		result["failureThreshold"] = retries + 1
	}
	delete(src, "start_interval")

	if len(src) > 0 {
		return nil, errorf("unsupported key(s) in 'healthcheck': %s. %s", keysOf(src), c.context())
	}
	return result, nil
}

func (c *serviceConverter) healthcheckTestToExec(raw any) (map[string]any, error) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, errorf("unsupported 'healthcheck.test': %v. %s", raw, c.context())
	}
	kind, _ := list[0].(string)
	switch kind {
	case "CMD":
		args := make([]string, 0, len(list)-1)
		for _, a := range list[1:] {
			args = append(args, fmt.Sprintf("%v", a))
		}
		return map[string]any{"command": args}, nil
	case "CMD-SHELL":
		if len(list) < 2 {
			return nil, errorf("unsupported 'healthcheck.test': %v. %s", raw, c.context())
		}
		return map[string]any{"command": []string{"sh", "-c", fmt.Sprintf("%v", list[1])}}, nil
	default:
		return nil, errorf("unsupported 'healthcheck.test': %v. Only CMD and CMD-SHELL are supported. %s", raw, c.context())
	}
}

func (c *serviceConverter) transformDuration(src map[string]any, srcKey string, dst map[string]any, dstKey string) error {
	raw, ok := src[srcKey]
	if !ok {
		return nil
	}
	delete(src, srcKey)
	seconds, err := durationToSeconds(fmt.Sprintf("%v", raw))
	if err != nil {
		return errorf("%v. %s", err, c.context())
	}
	dst[dstKey] = seconds
	return nil
}

func (c *serviceConverter) convertDeploy(deploy map[string]any, memLimit string, result map[string]any) error {
	if resourcesRaw, ok := deploy["resources"]; ok {
		delete(deploy, "resources")
		resources, err := asStringMap(resourcesRaw, "resources", c.path)
		if err != nil {
			return err
		}
		converted, err := c.convertResources(resources)
		if err != nil {
			return err
		}
		setRequestsToLimitsIfUnset(converted)
		result["resources"] = converted
	} else if memLimit != "" {
		memory, err := convertByteValue(memLimit, c.context())
		if err != nil {
			return err
		}
		resources := map[string]any{"limits": map[string]any{"memory": memory}}
		setRequestsToLimitsIfUnset(resources)
		result["resources"] = resources
	}
	if len(deploy) > 0 {
		return errorf("unsupported key(s) in 'deploy': %s. %s", keysOf(deploy), c.context())
	}
	return nil
}

func (c *serviceConverter) convertResources(src map[string]any) (map[string]any, error) {
	result := make(map[string]any)
	if limitsRaw, ok := src["limits"]; ok {
		delete(src, "limits")
		limits, err := asStringMap(limitsRaw, "limits", c.path)
		if err != nil {
			return nil, err
		}
		converted, err := c.convertResource(limits)
		if err != nil {
			return nil, err
		}
		result["limits"] = converted
	}
	if reservationsRaw, ok := src["reservations"]; ok {
		delete(src, "reservations")
		reservations, err := asStringMap(reservationsRaw, "reservations", c.path)
		if err != nil {
			return nil, err
		}
		converted, err := c.convertResource(reservations)
		if err != nil {
			return nil, err
		}
		result["requests"] = converted
	}
	if len(src) > 0 {
		return nil, errorf("unsupported key(s) in 'resources': %s. %s", keysOf(src), c.context())
	}
	return result, nil
}

func (c *serviceConverter) convertResource(src map[string]any) (map[string]any, error) {
	result := make(map[string]any)
	if cpu, ok := src["cpus"]; ok {
		delete(src, "cpus")
		result["cpu"] = cpu
	}
	if memory, ok := src["memory"]; ok {
		delete(src, "memory")
		converted, err := convertByteValue(fmt.Sprintf("%v", memory), c.context())
		if err != nil {
			return nil, err
		}
		result["memory"] = converted
	}
	if len(src) > 0 {
		return nil, errorf("unsupported key(s) in 'resource': %s. %s", keysOf(src), c.context())
	}
	return result, nil
}

func (c *serviceConverter) userToSecurityContext(raw any) (map[string]any, error) {
	parseInt := func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, errorf("invalid 'user' value: %q. Expected int. %s", s, c.context())
		}
		return n, nil
	}
	switch v := raw.(type) {
	case int:
		return map[string]any{"runAsUser": v}, nil
	case string:
		if strings.Contains(v, ":") {
			parts := strings.SplitN(v, ":", 2)
			uid, err := parseInt(parts[0])
			if err != nil {
				return nil, err
			}
			gid, err := parseInt(parts[1])
			if err != nil {
				return nil, err
			}
			return map[string]any{"runAsUser": uid, "runAsGroup": gid}, nil
		}
		uid, err := parseInt(v)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runAsUser": uid}, nil
	default:
		return nil, errorf("invalid 'user' type: %T with value %v. Expected int or string. %s", raw, raw, c.context())
	}
}

func setRequestsToLimitsIfUnset(resources map[string]any) {
	limits, hasLimits := resources["limits"]
	_, hasRequests := resources["requests"]
	if hasLimits && !hasRequests {
		if m, ok := limits.(map[string]any); ok {
			copied := make(map[string]any, len(m))
			for k, v := range m {
				copied[k] = v
			}
			resources["requests"] = copied
		}
	}
}

var byteValuePattern = regexp.MustCompile(`(?i)^(\d+)(gb?|mb?|kb?|b)$`)

// convertByteValue converts a Docker Compose byte value (e.g. "512m",
// "1gb") to the Kubernetes quantity suffix form (e.g. "512Mi", "1Gi").
func convertByteValue(value string, context string) (string, error) {
	match := byteValuePattern.FindStringSubmatch(value)
	if match == nil {
		return "", errorf("unsupported byte value (memory quantity): %q. %s", value, context)
	}
	number, unit := match[1], strings.ToLower(match[2])
	switch unit {
	case "b":
		return number, nil
	case "k", "kb":
		return number + "Ki", nil
	case "m", "mb":
		return number + "Mi", nil
	case "g", "gb":
		return number + "Gi", nil
	default:
		return "", errorf("unsupported byte value (memory quantity) unit: %q. %s", unit, context)
	}
}

var durationPattern = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// durationToSeconds converts a Docker Compose duration (e.g. "1m30s") to a
// whole number of seconds.
func durationToSeconds(value string) (int, error) {
	match := durationPattern.FindStringSubmatch(value)
	if match == nil || (match[1] == "" && match[2] == "" && match[3] == "") {
		return 0, errorf("unsupported duration format: %q. Only {h, m, s} supported e.g. 1m30s", value)
	}
	hours, _ := strconv.Atoi(match[1])
	minutes, _ := strconv.Atoi(match[2])
	seconds, _ := strconv.Atoi(match[3])
	return hours*3600 + minutes*60 + seconds, nil
}

func k8sCompliantVolumeName(name string) string {
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return strings.ToLower(name)
}

func transformString(src map[string]any, srcKey string, dst map[string]any, dstKey string) {
	if value, ok := src[srcKey]; ok {
		delete(src, srcKey)
		dst[dstKey] = value
	}
}

func asStringMap(raw any, field, path string) (map[string]any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errorf("invalid %q type: %T. Expected map. Compose file: %q", field, raw, path)
	}
	return m, nil
}

func asStringMapOrEmpty(raw any, field, path string) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	return asStringMap(raw, field, path)
}

func asInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("not an int: %T", raw)
	}
}

func keysOf(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return strings.Join(keys, ", ")
}
