package helpers

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Upstream payloads are loosely typed and the same field shows up under
// different names depending on the endpoint. Every getter takes a list of
// aliases, uses the first non-nil value and never fails: an unusable value
// reads as absent.

// Get returns the first non-nil value among keys
func Get(p map[string]interface{}, keys ...string) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first present value as a trimmed string. Numbers are
// rendered without exponent so numeric upstream ids stay stable.
func String(p map[string]interface{}, keys ...string) string {
	v, ok := Get(p, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]interface{}, []interface{}:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Int returns the first present value as an int, or nil
func Int(p map[string]interface{}, keys ...string) *int {
	v, ok := Get(p, keys...)
	if !ok {
		return nil
	}
	var n int
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		n = int(t)
	case int:
		n = t
	case int64:
		n = int(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return nil
		}
		n = int(i)
	case string:
		s := strings.TrimSpace(t)
		i, err := strconv.Atoi(s)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return nil
			}
			i = int(f)
		}
		n = i
	default:
		return nil
	}
	return &n
}

// Decimal returns the first present value as a decimal, or nil
func Decimal(p map[string]interface{}, keys ...string) *decimal.Decimal {
	v, ok := Get(p, keys...)
	if !ok {
		return nil
	}
	var d decimal.Decimal
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		d = decimal.NewFromFloat(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case json.Number:
		parsed, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil
		}
		d = parsed
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(t), "$"), ",", ""))
		if s == "" {
			return nil
		}
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		d = parsed
	default:
		return nil
	}
	return &d
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time returns the first present value parsed as a timestamp in UTC, or nil.
// Timestamps without a zone are taken as UTC.
func Time(p map[string]interface{}, keys ...string) *time.Time {
	s := String(p, keys...)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Date returns the first present value as a calendar date (UTC midnight), or nil
func Date(p map[string]interface{}, keys ...string) *time.Time {
	t := Time(p, keys...)
	if t == nil {
		return nil
	}
	d := DateOf(*t)
	return &d
}
