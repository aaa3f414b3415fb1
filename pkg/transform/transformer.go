package transform

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// TransformationError reports why a mapping could not be evaluated.
type TransformationError struct {
	Rule int // index into Mappings, -1 when not rule specific
	Err  error
}

func (e *TransformationError) Error() string {
	if e.Rule >= 0 {
		return fmt.Sprintf("transform rule %d: %v", e.Rule, e.Err)
	}
	return "transform: " + e.Err.Error()
}

func (e *TransformationError) Unwrap() error { return e.Err }

type Transformer struct {
	Now   func() time.Time
	NewID func() string
	Log   *slog.Logger
}

func New(log *slog.Logger) *Transformer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transformer{
		Now:   time.Now,
		NewID: uuid.NewString,
		Log:   log,
	}
}

// Transform evaluates cfg against source. Extraction misses and built-in
// failures fall back to the rule default; structural problems (bad paths,
// unknown transforms, conflicting targets) are returned as
// *TransformationError.
func (t *Transformer) Transform(source map[string]any, cfg *MappingConfig) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &TransformationError{Rule: -1, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if cfg == nil {
		return nil, &TransformationError{Rule: -1, Err: errors.New("no mapping")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &TransformationError{Rule: -1, Err: err}
	}

	out = make(map[string]any, len(cfg.Mappings)+len(cfg.StaticFields))
	for i, rule := range cfg.Mappings {
		v, gerr := Get(source, rule.Source)
		if gerr != nil || v == nil {
			v = deepCopy(rule.Default)
		} else {
			v = deepCopy(v)
		}
		if rule.Transform != "" && v != nil {
			fn, _ := Lookup(rule.Transform)
			tv, ferr := fn(v)
			if ferr != nil {
				t.Log.Debug("transform builtin failed, using default",
					slog.Int("rule", i),
					slog.String("transform", rule.Transform),
					slog.Any("error", ferr),
				)
				tv = deepCopy(rule.Default)
			}
			v = tv
		}
		if serr := Set(out, rule.Target, v); serr != nil {
			return nil, &TransformationError{Rule: i, Err: serr}
		}
	}

	for k, v := range cfg.StaticFields {
		out[k] = deepCopy(v)
	}

	g := cfg.GlobalTransforms
	if g.AddTimestamp {
		out[TimestampKey] = t.now().UTC().Format(time.RFC3339Nano)
	}
	if g.AddMessageID {
		out[MessageIDKey] = t.newID()
	}
	if g.Envelope != "" {
		out = map[string]any{g.Envelope: out}
	}
	return out, nil
}

// Apply is Transform with the safety net: a nil mapping, an evaluation
// error or a panic all produce DefaultPayload(source).
func (t *Transformer) Apply(source map[string]any, cfg *MappingConfig) map[string]any {
	if cfg == nil {
		return DefaultPayload(source)
	}
	out, err := t.Transform(source, cfg)
	if err != nil {
		t.Log.Warn("mapping failed, using default payload", slog.Any("error", err))
		return DefaultPayload(source)
	}
	return out
}

// ApplyDocument decodes a persisted mapping document and applies it. A
// mapping that does not decode falls back like any other failure.
func (t *Transformer) ApplyDocument(source, mapping map[string]any) map[string]any {
	cfg, err := DecodeMapping(mapping)
	if err != nil {
		t.Log.Warn("mapping does not decode, using default payload", slog.Any("error", err))
		return DefaultPayload(source)
	}
	return t.Apply(source, cfg)
}

func (t *Transformer) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

func (t *Transformer) newID() string {
	if t.NewID == nil {
		return uuid.NewString()
	}
	return t.NewID()
}
