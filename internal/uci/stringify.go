package uci

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Stringify normalizes an option value to its canonical string form.
// Strings pass through, numbers and booleans become their decimal/text
// representation, lists become []string element-wise, and nested maps are
// normalized recursively. The same function backs both parsing and matching
// so equality comparisons are format-stable.
func Stringify(v any) any {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		// JSON numbers decode to float64; integral values print without a
		// trailing ".0" so they compare equal to parsed file content.
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, stringifyScalar(e))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Stringify(e)
		}
		return out
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

func stringifyScalar(v any) string {
	if s, ok := Stringify(v).(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// StringifyOptions normalizes every value of an option map.
func StringifyOptions(opts map[string]any) map[string]any {
	if opts == nil {
		return nil
	}
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		out[k] = Stringify(v)
	}
	return out
}

// OptionsMatch reports whether every option in pattern equals the
// corresponding option in opts after stringification. Keys absent from the
// pattern are wildcards; an empty pattern matches any option map.
func OptionsMatch(pattern, opts map[string]any) bool {
	for k, want := range pattern {
		got, ok := opts[k]
		if !ok {
			return false
		}
		if optionKey(Stringify(want)) != optionKey(Stringify(got)) {
			return false
		}
	}
	return true
}

// optionKey renders a stringified value into a canonical comparable form.
func optionKey(v any) string {
	switch x := v.(type) {
	case string:
		return "s:" + x
	case []string:
		return "l:" + strings.Join(x, "\x1f")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("m:")
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(optionKey(x[k]))
			b.WriteByte('\x1e')
		}
		return b.String()
	default:
		return "s:" + fmt.Sprintf("%v", x)
	}
}
