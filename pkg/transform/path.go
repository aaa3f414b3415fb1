package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrPathSyntax   = errors.New("invalid path")
	ErrPathNotFound = errors.New("path not found")
	ErrPathConflict = errors.New("path conflicts with existing value")
)

// MaxIndex bounds list indexes in paths. Writes pad a list up to the index,
// so an unbounded index would let a mapping allocate without limit.
const MaxIndex = 1024

type segment struct {
	key   string
	index int
	isIdx bool
}

func (s segment) String() string {
	if s.isIdx {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	return s.key
}

// parsePath splits a dot/bracket path. A leading "$" or "$." is accepted and
// ignored.
func parsePath(p string) ([]segment, error) {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return nil, fmt.Errorf("%w: empty", ErrPathSyntax)
	}

	var segs []segment
	i := 0
	expectKey := true
	for i < len(p) {
		switch c := p[i]; {
		case c == '.':
			if expectKey {
				return nil, fmt.Errorf("%w: %q: empty segment at %d", ErrPathSyntax, p, i)
			}
			expectKey = true
			i++
		case c == '[':
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: %q: unclosed bracket", ErrPathSyntax, p)
			}
			inner := strings.TrimSpace(p[i+1 : i+end])
			seg, err := bracketSegment(inner)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrPathSyntax, p, err)
			}
			segs = append(segs, seg)
			expectKey = false
			i += end + 1
		default:
			if !expectKey {
				return nil, fmt.Errorf("%w: %q: expected '.' or '[' at %d", ErrPathSyntax, p, i)
			}
			j := i
			for j < len(p) && p[j] != '.' && p[j] != '[' {
				j++
			}
			segs = append(segs, segment{key: p[i:j]})
			expectKey = false
			i = j
		}
	}
	if expectKey {
		return nil, fmt.Errorf("%w: %q: trailing '.'", ErrPathSyntax, p)
	}
	return segs, nil
}

func bracketSegment(inner string) (segment, error) {
	if inner == "" {
		return segment{}, errors.New("empty brackets")
	}
	if q := inner[0]; q == '"' || q == '\'' {
		if len(inner) < 2 || inner[len(inner)-1] != q {
			return segment{}, errors.New("unterminated quoted key")
		}
		return segment{key: inner[1 : len(inner)-1]}, nil
	}
	n, err := strconv.Atoi(inner)
	if err != nil {
		return segment{}, fmt.Errorf("bad index %q", inner)
	}
	if n > MaxIndex || n < -MaxIndex {
		return segment{}, fmt.Errorf("index %d exceeds %d", n, MaxIndex)
	}
	return segment{index: n, isIdx: true}, nil
}

// Get resolves path against doc. Negative indexes count from the end.
func Get(doc any, path string) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	return getSegments(doc, segs)
}

func getSegments(doc any, segs []segment) (any, error) {
	cur := doc
	for n, s := range segs {
		if s.isIdx {
			arr, ok := asList(cur)
			if !ok {
				return nil, fmt.Errorf("%w: %s is not a list", ErrPathNotFound, joinSegments(segs[:n]))
			}
			idx := s.index
			if idx < 0 {
				idx += len(arr)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("%w: index %d out of range", ErrPathNotFound, s.index)
			}
			cur = arr[idx]
			continue
		}
		m, ok := asMap(cur)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an object", ErrPathNotFound, joinSegments(segs[:n]))
		}
		v, ok := m[s.key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, joinSegments(segs[:n+1]))
		}
		cur = v
	}
	return cur, nil
}

// Set writes v at path inside doc, creating objects for key segments and
// growing arrays for index segments.
func Set(doc map[string]any, path string, v any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if segs[0].isIdx {
		return fmt.Errorf("%w: %q: target must start with a key", ErrPathSyntax, path)
	}
	_, err = setIn(doc, segs, v)
	return err
}

func setIn(cur any, segs []segment, v any) (any, error) {
	if len(segs) == 0 {
		return v, nil
	}
	s := segs[0]
	if s.isIdx {
		var arr []any
		switch c := cur.(type) {
		case nil:
		case []any:
			arr = c
		default:
			return nil, fmt.Errorf("%w: cannot index into %T", ErrPathConflict, cur)
		}
		if s.index < 0 {
			return nil, fmt.Errorf("%w: negative index %d in target", ErrPathSyntax, s.index)
		}
		for len(arr) <= s.index {
			arr = append(arr, nil)
		}
		child, err := setIn(arr[s.index], segs[1:], v)
		if err != nil {
			return nil, err
		}
		arr[s.index] = child
		return arr, nil
	}

	var m map[string]any
	switch c := cur.(type) {
	case nil:
		m = map[string]any{}
	case map[string]any:
		m = c
	default:
		return nil, fmt.Errorf("%w: cannot set key %q on %T", ErrPathConflict, s.key, cur)
	}
	child, err := setIn(m[s.key], segs[1:], v)
	if err != nil {
		return nil, err
	}
	m[s.key] = child
	return m, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func joinSegments(segs []segment) string {
	if len(segs) == 0 {
		return "$"
	}
	var b strings.Builder
	for i, s := range segs {
		if !s.isIdx && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// deepCopy clones JSON-shaped values so results never alias the source or
// the mapping configuration.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	default:
		return v
	}
}
