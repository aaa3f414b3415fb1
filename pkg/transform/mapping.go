package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// Rule copies one value from the source document into the result.
type Rule struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Default   any    `json:"default,omitempty"`
	Transform string `json:"transform,omitempty"`
}

type GlobalTransforms struct {
	AddTimestamp bool   `json:"add_timestamp,omitempty"`
	AddMessageID bool   `json:"add_message_id,omitempty"`
	Envelope     string `json:"envelope,omitempty"`
}

// MappingConfig is the per-endpoint, user-authored mapping document.
type MappingConfig struct {
	Mappings         []Rule           `json:"mappings"`
	StaticFields     map[string]any   `json:"static_fields,omitempty"`
	GlobalTransforms GlobalTransforms `json:"global_transforms"`
}

const (
	TimestampKey = "timestamp"
	MessageIDKey = "message_id"
)

var ErrInvalidMapping = errors.New("invalid mapping")

// ParseMapping decodes a mapping written as JSON or commented JSON. Unknown
// keys are rejected so typos surface instead of silently mapping nothing.
func ParseMapping(raw []byte) (*MappingConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(raw)))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	var cfg MappingConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DecodeMapping converts a persisted mapping document. A nil or empty
// document means "no mapping" and returns nil without error.
func DecodeMapping(doc map[string]any) (*MappingConfig, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	return ParseMapping(raw)
}

// Validate checks every path parses and every transform name is known.
func (c *MappingConfig) Validate() error {
	var problems []string
	for i, r := range c.Mappings {
		if _, err := parsePath(r.Source); err != nil {
			problems = append(problems, fmt.Sprintf("mappings[%d].source: %v", i, err))
		}
		segs, err := parsePath(r.Target)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("mappings[%d].target: %v", i, err))
		case segs[0].isIdx:
			problems = append(problems, fmt.Sprintf("mappings[%d].target: must start with a key", i))
		}
		if r.Transform != "" {
			if _, ok := Lookup(r.Transform); !ok {
				problems = append(problems, fmt.Sprintf("mappings[%d].transform: unknown %q", i, r.Transform))
			}
		}
	}
	for k := range c.StaticFields {
		if strings.TrimSpace(k) == "" {
			problems = append(problems, "static_fields: empty key")
		}
	}
	if env := c.GlobalTransforms.Envelope; env != "" && strings.TrimSpace(env) == "" {
		problems = append(problems, "global_transforms.envelope: blank key")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(problems, "; "))
	}
	return nil
}
