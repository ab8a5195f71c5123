package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// toJSON returns raw as JSON. YAML documents are re-encoded so both formats
// go through the same strict decoder.
func toJSON(path string, raw []byte) ([]byte, format, error) {
	f := formatOf(path)
	if f == formatJSON {
		return raw, f, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, f, fmt.Errorf("parse yaml: %w", err)
	}
	if doc.Kind == 0 {
		return []byte("{}"), f, nil
	}
	v, err := nodeValue(&doc)
	if err != nil {
		return nil, f, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, f, fmt.Errorf("yaml->json: %w", err)
	}
	return b, f, nil
}

func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		return mappingValue(n)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
}

func mappingValue(n *yaml.Node) (map[string]any, error) {
	m := make(map[string]any, len(n.Content)/2)
	var merged []map[string]any
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, vn := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping key must be a scalar", k.Line)
		}
		v, err := nodeValue(vn)
		if err != nil {
			return nil, err
		}
		if isMergeKey(k) {
			mm, err := mergeSources(k.Line, v)
			if err != nil {
				return nil, err
			}
			merged = append(merged, mm...)
			continue
		}
		m[k.Value] = v
	}
	// explicit keys win over merged ones
	for _, mm := range merged {
		for k, v := range mm {
			if _, ok := m[k]; !ok {
				m[k] = v
			}
		}
	}
	return m, nil
}

func isMergeKey(k *yaml.Node) bool {
	return k.Value == "<<" && (k.Tag == "" || k.Tag == "!" || k.ShortTag() == "!!merge")
}

// mergeSources accepts "<<: *a" and "<<: [*a, *b]". Earlier entries in a
// list win.
func mergeSources(line int, v any) ([]map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("line %d: merge list must hold mappings", line)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: merge value must be a mapping", line)
}
