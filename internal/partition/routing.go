package partition

import (
	"fmt"
	"path"
	"strings"

	"github.com/sparkify/datalake/pkg/types"
)

// DefaultPartitionName is the directory value written for NULL or empty
// partition values.
const DefaultPartitionName = "__HIVE_DEFAULT_PARTITION__"

const hexDigits = "0123456789ABCDEF"

// needsEscape reports whether a byte must be %XX-escaped in a partition value.
func needsEscape(c byte) bool {
	if c < 0x20 || c == 0x7F {
		return true
	}
	switch c {
	case '"', '#', '%', '\'', '*', '/', ':', '=', '?', '\\', '{', '[', ']', '^':
		return true
	}
	return false
}

// Escape renders a partition value for use in a path segment.
func Escape(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if needsEscape(c) {
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Unescape reverses Escape. Malformed escapes are kept literally.
func Unescape(segment string) string {
	var b strings.Builder
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if c == '%' && i+2 < len(segment) && isHex(segment[i+1]) && isHex(segment[i+2]) {
			b.WriteByte(unhex(segment[i+1])<<4 | unhex(segment[i+2]))
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// Dir returns the relative directory for a row's partition values, for
// example "year=1999/artist_id=AR1". It is empty for unpartitioned tables.
func Dir(values []types.PartitionValue) string {
	segments := make([]string, len(values))
	for i, v := range values {
		value := DefaultPartitionName
		if !v.Null && v.Value != "" {
			value = Escape(v.Value)
		}
		segments[i] = Escape(v.Column) + "=" + value
	}
	return path.Join(segments...)
}

// ParseDir parses a relative partition directory back into its values.
func ParseDir(dir string) ([]types.PartitionValue, error) {
	if dir == "" {
		return nil, nil
	}

	segments := strings.Split(dir, "/")
	values := make([]types.PartitionValue, 0, len(segments))
	for _, seg := range segments {
		col, raw, ok := strings.Cut(seg, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("routing: invalid partition segment %q", seg)
		}
		if raw == DefaultPartitionName {
			values = append(values, types.PartitionValue{Column: Unescape(col), Null: true})
			continue
		}
		values = append(values, types.PartitionValue{Column: Unescape(col), Value: Unescape(raw)})
	}
	return values, nil
}

// Group collects items by partition directory. Directories are returned in
// first-seen order so file numbering follows row order.
type Group[T any] struct {
	Dir    string
	Values []types.PartitionValue
	Items  []T
}

// Route groups items by the directory of their partition values.
func Route[T any](items []T, valuesOf func(T) []types.PartitionValue) []*Group[T] {
	var groups []*Group[T]
	index := make(map[string]*Group[T])
	for _, item := range items {
		values := valuesOf(item)
		dir := Dir(values)
		g, ok := index[dir]
		if !ok {
			g = &Group[T]{Dir: dir, Values: values}
			index[dir] = g
			groups = append(groups, g)
		}
		g.Items = append(g.Items, item)
	}
	return groups
}
