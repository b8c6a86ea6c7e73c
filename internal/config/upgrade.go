package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Upgrade back-fills every key of DefaultConfig that is missing from the
// document in data, at any nesting depth. Keys already present, including
// keys unknown to the schema, are kept as they are. It returns the
// re-encoded document and the dotted names of the keys it added.
func Upgrade(data []byte) ([]byte, []string, error) {
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing config document: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	defaults, err := defaultDocument()
	if err != nil {
		return nil, nil, err
	}

	var added []string
	backfill(doc, defaults, "", &added)
	sort.Strings(added)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding config document: %w", err)
	}
	return out, added, nil
}

func defaultDocument() (map[string]interface{}, error) {
	raw, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	return doc, nil
}

func backfill(dst, src map[string]interface{}, prefix string, added *[]string) {
	for key, def := range src {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		cur, ok := dst[key]
		if !ok {
			dst[key] = def
			*added = append(*added, name)
			continue
		}
		curMap, curIsMap := cur.(map[string]interface{})
		defMap, defIsMap := def.(map[string]interface{})
		if curIsMap && defIsMap {
			backfill(curMap, defMap, name, added)
		}
	}
}
