package strategy

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Generated phase output is only loosely shaped: keys may arrive in
// snake_case or camelCase, numbers may arrive as strings, and lists of
// strings may arrive as lists of small objects. The helpers below read such
// values without failing; anything unusable decodes to its zero value.

func lookup(m map[string]any, keys ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
		if v, ok := m[camel(key)]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func camel(key string) string {
	parts := strings.Split(key, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

func str(m map[string]any, keys ...string) string {
	v, ok := lookup(m, keys...)
	if !ok {
		return ""
	}
	return asString(v)
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		for _, key := range []string{"name", "title", "outcome", "trend", "description", "text", "value"} {
			if s, ok := t[key].(string); ok && s != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func num(m map[string]any, keys ...string) float64 {
	v, ok := lookup(m, keys...)
	if !ok {
		return 0
	}
	f, _ := asFloat(v)
	return f
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		cleaned := strings.NewReplacer(",", "", "$", "", "%", "", " ", "").Replace(t)
		f, err := strconv.ParseFloat(cleaned, 64)
		return f, err == nil
	}
	return 0, false
}

func integer(m map[string]any, keys ...string) int64 {
	f := num(m, keys...)
	return int64(f)
}

func object(m map[string]any, keys ...string) map[string]any {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	obj, _ := v.(map[string]any)
	return obj
}

func objects(m map[string]any, keys ...string) []map[string]any {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func strs(m map[string]any, keys ...string) []string {
	v, ok := lookup(m, keys...)
	if !ok {
		return []string{}
	}
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return []string{}
		}
		return []string{strings.TrimSpace(t)}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
