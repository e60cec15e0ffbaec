package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/magiconair/properties"
)

// propertiesLoader reads UTF-8 .properties content. ${...} references are
// left as written.
var propertiesLoader = &properties.Loader{
	Encoding:         properties.UTF8,
	DisableExpansion: true,
}

// ParseProperties parses Java-style .properties content into a flat map.
// Keys keep their case and dots, so "NotEmpty" and "NotEmpty.user.name"
// are two independent entries.
func ParseProperties(data []byte) (map[string]string, error) {
	p, err := propertiesLoader.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

func readPropertiesFile(path string) (map[string]any, error) {
	p, err := propertiesLoader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read properties %s: %w", path, err)
	}
	return nestProperties(p.Map()), nil
}

// nestProperties turns dotted keys into the nested maps viper merges, so
// "jdbc.url" lands in the jdbc section. When a key is both a value and a
// prefix of other keys, the nested keys win.
func nestProperties(flat map[string]string) map[string]any {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any)
	for _, k := range keys {
		parts := strings.Split(k, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		last := parts[len(parts)-1]
		if _, isSection := m[last].(map[string]any); !isSection {
			m[last] = flat[k]
		}
	}
	return out
}
