package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
)

// Func is a named value transform a mapping rule may reference.
type Func func(v any) (any, error)

var builtins = map[string]Func{
	"uppercase":      caseFold(func() cases.Caser { return cases.Upper(language.Und) }),
	"lowercase":      caseFold(func() cases.Caser { return cases.Lower(language.Und) }),
	"titlecase":      caseFold(func() cases.Caser { return cases.Title(language.Und) }),
	"trim":           trim,
	"to_string":      toString,
	"to_int":         toInt,
	"iso8601":        iso8601,
	"severity_label": severityLabel,
	"status_label":   statusLabel,
}

var aliases = map[string]string{
	"upper":    "uppercase",
	"lower":    "lowercase",
	"title":    "titlecase",
	"int":      "to_int",
	"integer":  "to_int",
	"string":   "to_string",
	"date":     "iso8601",
	"datetime": "iso8601",
	"severity": "severity_label",
	"status":   "status_label",
}

// Lookup returns the built-in registered under name or one of its aliases.
func Lookup(name string) (Func, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	f, ok := builtins[name]
	return f, ok
}

// Names lists the canonical built-in names.
func Names() []string {
	out := make([]string, 0, len(builtins))
	for k := range builtins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Casers are stateful, so each call builds its own.
func caseFold(newCaser func() cases.Caser) Func {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return newCaser().String(s), nil
	}
}

func trim(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	return strings.TrimSpace(s), nil
}

func toString(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool, int, int32, int64:
		return fmt.Sprint(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

func toInt(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("cannot convert %v to int", t)
		}
		return int(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return int(f), nil
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.Atoi(s); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("cannot parse %q as int", t)
		}
		return int(f), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to int", v)
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// iso8601 renders times, parseable date strings and unix seconds as RFC 3339
// in UTC.
func iso8601(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case *time.Time:
		if t == nil {
			return nil, fmt.Errorf("nil time")
		}
		return t.UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("unrecognised date %q", t)
	case int, int32, int64, float64, json.Number:
		sec, err := toInt(t)
		if err != nil {
			return nil, err
		}
		return time.Unix(int64(sec.(int)), 0).UTC().Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("cannot render %T as date", v)
	}
}

func severityLabel(v any) (any, error) {
	s, err := alerts.ParseSeverity(v)
	if err != nil {
		return nil, fmt.Errorf("severity: %w", err)
	}
	return s.Label(), nil
}

func statusLabel(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	st := alerts.Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return nil, fmt.Errorf("unknown status %q", s)
	}
	return st.Label(), nil
}
