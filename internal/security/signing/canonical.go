package signing

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Canonical renders payload as a sorted list of (key, value) pairs, e.g.
//
//	[('action', 'send'), ('amount', 50.0)]
//
// Every number renders as a float so a payload that crossed a JSON boundary
// produces the same string as the original.
func Canonical(payload map[string]any) string {
	var b strings.Builder
	writeItems(&b, payload)
	return b.String()
}

// Repr renders payload as a key-sorted dict literal, e.g. {'action': 'send'}.
func Repr(payload map[string]any) string {
	var b strings.Builder
	writeDict(&b, payload)
	return b.String()
}

func writeItems(b *strings.Builder, m map[string]any) {
	keys := sortedKeys(m)
	b.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		writeString(b, k)
		b.WriteString(", ")
		writeValue(b, m[k])
		b.WriteByte(')')
	}
	b.WriteByte(']')
}

func writeDict(b *strings.Builder, m map[string]any) {
	keys := sortedKeys(m)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		writeString(b, k)
		b.WriteString(": ")
		writeValue(b, m[k])
	}
	b.WriteByte('}')
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("None")
	case string:
		writeString(b, val)
	case bool:
		if val {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case float64:
		b.WriteString(formatFloat(val))
	case float32:
		b.WriteString(formatFloat(float64(val)))
	case int:
		b.WriteString(formatFloat(float64(val)))
	case int32:
		b.WriteString(formatFloat(float64(val)))
	case int64:
		b.WriteString(formatFloat(float64(val)))
	case uint:
		b.WriteString(formatFloat(float64(val)))
	case uint64:
		b.WriteString(formatFloat(float64(val)))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			b.WriteString(formatFloat(f))
		} else {
			writeString(b, val.String())
		}
	case map[string]any:
		writeDict(b, val)
	case []any:
		writeList(b, val)
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		writeList(b, items)
	default:
		writeReflect(b, v)
	}
}

func writeList(b *strings.Builder, items []any) {
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		writeValue(b, item)
	}
	b.WriteByte(']')
}

// writeReflect handles typed slices and maps by normalizing them through their generic form.
func writeReflect(b *strings.Builder, v any) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		writeList(b, items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			writeString(b, fmt.Sprint(v))
			return
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		writeDict(b, m)
	case reflect.Int8, reflect.Int16:
		b.WriteString(formatFloat(float64(rv.Int())))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		b.WriteString(formatFloat(float64(rv.Uint())))
	default:
		writeString(b, fmt.Sprint(v))
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// writeString quotes s the way a repr() of a text value does: single quotes
// unless the text contains a single quote and no double quote.
func writeString(b *strings.Builder, s string) {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}

	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(b, `\x%02x`, r)
		case !unicode.IsPrint(r) && r > 0x7f:
			if r <= 0xffff {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				fmt.Fprintf(b, `\U%08x`, r)
			}
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
}
