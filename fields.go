package kcouch

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// Codec converts one declared field between its stored JSON form and a Go
// value. A null value passes through both directions untouched.
type Codec struct {
	Kind    string
	Default interface{}

	decode func(interface{}) (interface{}, error)
	encode func(interface{}) (interface{}, error)
}

// WithDefault returns a copy of the codec with a different default value.
func (c Codec) WithDefault(v interface{}) Codec {
	c.Default = v
	return c
}

// Decode converts a stored value into its Go form.
func (c Codec) Decode(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	out, err := c.decode(v)
	if err != nil {
		return nil, fmt.Errorf("%s field: %s: %w", c.Kind, err, ErrValidation)
	}
	return out, nil
}

// Encode converts a Go value into its stored form.
func (c Codec) Encode(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	out, err := c.encode(v)
	if err != nil {
		return nil, fmt.Errorf("%s field: %s: %w", c.Kind, err, ErrValidation)
	}
	return out, nil
}

func Text() Codec {
	text := func(v interface{}) (interface{}, error) {
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return Codec{Kind: "text", decode: text, encode: text}
}

func Integer() Codec {
	return Codec{Kind: "integer", decode: toInt64, encode: toInt64}
}

func Float() Codec {
	return Codec{Kind: "float", decode: toFloat64, encode: toFloat64}
}

// Decimal keeps values as *big.Float and stores them as strings so no
// precision is lost on the way through the store.
func Decimal() Codec {
	return Codec{
		Kind: "decimal",
		decode: func(v interface{}) (interface{}, error) {
			return toBigFloat(v)
		},
		encode: func(v interface{}) (interface{}, error) {
			f, err := toBigFloat(v)
			if err != nil {
				return nil, err
			}
			return f.Text('f', -1), nil
		},
	}
}

func Boolean() Codec {
	boolean := func(v interface{}) (interface{}, error) {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	}
	return Codec{Kind: "boolean", decode: boolean, encode: boolean}
}

// Date stores a calendar date as YYYY-MM-DD.
func Date() Codec {
	return Codec{
		Kind: "date",
		decode: func(v interface{}) (interface{}, error) {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("expected date string, got %T", v)
			}
			if len(s) > len(dateLayout) {
				t, err := parseDateTime(s)
				if err != nil {
					return nil, err
				}
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
			return time.Parse(dateLayout, s)
		},
		encode: func(v interface{}) (interface{}, error) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, fmt.Errorf("expected time.Time, got %T", v)
			}
			return t.Format(dateLayout), nil
		},
	}
}

// DateTime stores an instant as RFC 3339 in UTC. Stored values without a
// zone are read as UTC.
func DateTime() Codec {
	return Codec{
		Kind: "datetime",
		decode: func(v interface{}) (interface{}, error) {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("expected datetime string, got %T", v)
			}
			return parseDateTime(s)
		},
		encode: func(v interface{}) (interface{}, error) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, fmt.Errorf("expected time.Time, got %T", v)
			}
			return t.UTC().Format(time.RFC3339Nano), nil
		},
	}
}

// JSON leaves values as decoded JSON.
func JSON() Codec {
	same := func(v interface{}) (interface{}, error) { return v, nil }
	return Codec{Kind: "json", decode: same, encode: same}
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as datetime", s)
}

func toInt64(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		return int64(f), err
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat64(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
}

func toBigFloat(v interface{}) (*big.Float, error) {
	var s string
	switch n := v.(type) {
	case *big.Float:
		return n, nil
	case string:
		s = n
	case json.Number:
		s = n.String()
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		s = strconv.Itoa(n)
	case int64:
		s = strconv.FormatInt(n, 10)
	default:
		return nil, fmt.Errorf("expected decimal, got %T", v)
	}
	f, _, err := big.ParseFloat(s, 10, 128, big.ToNearestEven)
	return f, err
}
