package orm

import (
	"strings"
	"unicode"
)

// CamelToSnake converts an application field name to its column name. Every
// uppercase letter becomes "_" plus its lowercase form, so runs of capitals
// split letter by letter ("userID" -> "user_i_d") and an uppercase letter
// after an underscore still gets its own ("a_B" -> "a__b").
func CamelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SnakeKeys converts map keys to column names recursively. Slices are
// converted element by element; every other value is returned unchanged.
func SnakeKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return snakeMap(x)
	case Data:
		return snakeMap(x)
	case Where:
		return snakeMap(x)
	case []map[string]any:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = snakeMap(m)
		}
		return out
	case []Data:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = snakeMap(m)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = SnakeKeys(e)
		}
		return out
	default:
		return v
	}
}

func snakeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[CamelToSnake(k)] = SnakeKeys(v)
	}
	return out
}
