package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Row is one decoded JSON input record keyed by source key. Numbers are
// expected as json.Number (decoder.UseNumber).
type Row map[string]interface{}

// Values converts the record into column values in schema order. Missing
// keys and JSON nulls become nil.
func (r Row) Values(s Schema) ([]interface{}, error) {
	values := make([]interface{}, len(s.Columns))
	for i, col := range s.Columns {
		v, err := ConvertValue(col.Type, r[col.SourceKey()])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		values[i] = v
	}
	return values, nil
}

// ConvertValue coerces a decoded JSON value into the Go type stored for a
// column. TEXT accepts numbers and renders them as written, which is how a
// numeric userId ends up equal to its string form.
func ConvertValue(colType string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch colType {
	case TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		case bool:
			return strconv.FormatBool(x), nil
		default:
			b, err := json.Marshal(x)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			return string(b), nil
		}

	case TypeInteger:
		switch x := v.(type) {
		case json.Number:
			return parseInteger(x.String())
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, nil
			}
			return parseInteger(strings.TrimSpace(x))
		default:
			return nil, fmt.Errorf("%w: %T is not an integer", ErrTypeMismatch, v)
		}

	case TypeReal:
		switch x := v.(type) {
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			return f, nil
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, x)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, v)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumnType, colType)
	}
}

// parseInteger accepts integral values written in float notation, such as 1.0
// or 1.5409E12, which JSON producers emit for large longs.
func parseInteger(s string) (interface{}, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, s)
	}
	return int64(f), nil
}
