package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
)

// lookup walks a dotted path through nested JSON objects. Array segments are
// addressed by index ("items.0.cidrIp").
func lookup(m map[string]interface{}, path string) interface{} {
	var cur interface{} = m
	for _, p := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			cur = node[p]
		case []interface{}:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}

// str returns the first non-empty string found at any of the paths.
func str(m map[string]interface{}, paths ...string) string {
	for _, p := range paths {
		switch v := lookup(m, p).(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func object(m map[string]interface{}, path string) map[string]interface{} {
	o, _ := lookup(m, path).(map[string]interface{})
	return o
}

// text renders free-form values: strings verbatim, anything else as compact JSON.
func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
