package masking

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pre-compiled patterns for fast AppliesTo checks.
var (
	yamlSecretPattern = regexp.MustCompile(`(?m)^kind:\s*Secret\s*$`)
	jsonSecretPattern = regexp.MustCompile(`"kind"\s*:\s*"Secret"`)
)

// kubernetesSecretMasker masks data/stringData fields in Kubernetes Secret
// manifests pasted into a requirement's description, while leaving
// ConfigMaps and other resource kinds untouched. Adapted from the
// teacher's KubernetesSecretMasker: the YAML/JSON parsing and Secret-vs-
// ConfigMap detection is kept as-is, but every masked value is now routed
// through a reserve callback instead of a constant placeholder string, so
// Unmask can restore the original later.
type kubernetesSecretMasker struct{}

func (m *kubernetesSecretMasker) Name() string { return "kubernetes_secret" }

func (m *kubernetesSecretMasker) AppliesTo(data string) bool {
	if !strings.Contains(data, "Secret") {
		return false
	}
	return yamlSecretPattern.MatchString(data) || jsonSecretPattern.MatchString(data)
}

// Mask applies Kubernetes Secret masking logic, detecting JSON vs YAML and
// applying the appropriate parser. Returns original data on parse errors
// (defensive, matching the teacher's contract).
func (m *kubernetesSecretMasker) Mask(data string, reserve func(original string) string) string {
	trimmed := strings.TrimSpace(data)

	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := m.maskJSON(data, reserve); masked != data {
			return masked
		}
	}

	if masked := m.maskYAML(data, reserve); masked != data {
		return masked
	}

	return data
}

func (m *kubernetesSecretMasker) maskYAML(data string, reserve func(string) string) string {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var documents []map[string]any
	anySecret := false

	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return data
		}
		if doc == nil {
			continue
		}

		if isKubernetesSecret(doc) {
			maskSecretFields(doc, reserve)
			maskAnnotationSecrets(doc, reserve)
			anySecret = true
		} else if isKubernetesList(doc) {
			if maskListItems(doc, reserve) {
				anySecret = true
			}
		}

		documents = append(documents, doc)
	}

	if !anySecret || len(documents) == 0 {
		return data
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return data
		}
	}
	if err := encoder.Close(); err != nil {
		return data
	}

	result := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}

func (m *kubernetesSecretMasker) maskJSON(data string, reserve func(string) string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return data
	}

	anyMasked := false

	if isKubernetesSecret(obj) {
		maskSecretFields(obj, reserve)
		maskAnnotationSecrets(obj, reserve)
		anyMasked = true
	} else if isKubernetesList(obj) {
		if maskListItems(obj, reserve) {
			anyMasked = true
		}
	}

	if !anyMasked {
		return data
	}

	result, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return data
	}

	output := string(result)
	if strings.HasSuffix(data, "\n") {
		output += "\n"
	}
	return output
}

// maskListItems masks Secret items within a Kubernetes List (shared by the
// YAML and JSON paths, which parse into the same map[string]any shape).
// Returns true if any items were masked.
func maskListItems(doc map[string]any, reserve func(string) string) bool {
	items, ok := doc["items"]
	if !ok {
		return false
	}
	itemList, ok := items.([]any)
	if !ok {
		return false
	}

	anyMasked := false
	for _, item := range itemList {
		if itemMap, ok := item.(map[string]any); ok && isKubernetesSecret(itemMap) {
			maskSecretFields(itemMap, reserve)
			maskAnnotationSecrets(itemMap, reserve)
			anyMasked = true
		}
	}
	return anyMasked
}

func isKubernetesSecret(resource map[string]any) bool {
	kind, ok := resource["kind"].(string)
	if !ok {
		return false
	}
	return kind == "Secret" || kind == "SecretList"
}

func isKubernetesList(resource map[string]any) bool {
	kind, ok := resource["kind"].(string)
	if !ok {
		return false
	}
	return kind == "List" || strings.HasSuffix(kind, "List")
}

// maskSecretFields replaces values in "data" and "stringData" fields,
// routing each original value through reserve.
func maskSecretFields(resource map[string]any, reserve func(string) string) {
	if kind, _ := resource["kind"].(string); kind == "SecretList" {
		if items, ok := resource["items"]; ok {
			if itemList, ok := items.([]any); ok {
				for _, item := range itemList {
					if itemMap, ok := item.(map[string]any); ok {
						maskSecretDataMaps(itemMap, reserve)
					}
				}
			}
		}
		return
	}
	maskSecretDataMaps(resource, reserve)
}

func maskSecretDataMaps(resource map[string]any, reserve func(string) string) {
	for _, field := range []string{"data", "stringData"} {
		fieldVal, ok := resource[field]
		if !ok {
			continue
		}
		dataMap, ok := fieldVal.(map[string]any)
		if !ok {
			continue
		}
		for key, val := range dataMap {
			strVal, ok := val.(string)
			if !ok {
				continue
			}
			dataMap[key] = reserve(strVal)
		}
	}
}

// maskAnnotationSecrets checks annotations for embedded JSON containing
// Secret data, e.g. kubectl.kubernetes.io/last-applied-configuration.
func maskAnnotationSecrets(resource map[string]any, reserve func(string) string) {
	metadata, ok := resource["metadata"].(map[string]any)
	if !ok {
		return
	}
	annotations, ok := metadata["annotations"].(map[string]any)
	if !ok {
		return
	}

	for key, val := range annotations {
		strVal, ok := val.(string)
		if !ok || !strings.Contains(strVal, "Secret") {
			continue
		}

		var embedded map[string]any
		if err := json.Unmarshal([]byte(strVal), &embedded); err != nil {
			continue
		}
		if isKubernetesSecret(embedded) {
			maskSecretFields(embedded, reserve)
			masked, err := json.Marshal(embedded)
			if err != nil {
				continue
			}
			annotations[key] = string(masked)
		}
	}
}
