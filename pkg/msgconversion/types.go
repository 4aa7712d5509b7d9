package msgconversion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

var (
	// ErrConversionRuleInvalid is returned for malformed conversion rules
	ErrConversionRuleInvalid = errors.New("invalid conversion rule")

	// ErrUnsupportedValue is returned when a fixed value has no attribute type
	ErrUnsupportedValue = errors.New("unsupported fixed value")
)

// ConversionType selects how rules are interpreted. Only per_property exists.
type ConversionType string

const TypePerProperty ConversionType = "per_property"

// Mode is the way one rule produces its target property
type Mode string

const (
	ModeFixedValue   Mode = "fixed_value"
	ModeFromOriginal Mode = "from_original"
)

// NamePath is the reserved rule path that renames the target message
const NamePath = "_ten.name"

const reservedPrefix = "_ten."

// Rule sets one target property
type Rule struct {
	Path         string          `json:"path"`
	Mode         Mode            `json:"conversion_mode"`
	OriginalPath string          `json:"original_path,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
}

// MsgConversion rewrites the property schema of one message
type MsgConversion struct {
	Type         ConversionType `json:"type"`
	KeepOriginal bool           `json:"keep_original,omitempty"`
	Rules        []Rule         `json:"rules"`
}

// MsgAndResultConversion is the msg_conversion of a connection destination.
// Result, when present, rewrites the command result on its way back.
type MsgAndResultConversion struct {
	MsgConversion
	Result *MsgConversion `json:"result,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConversionRuleInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the conversion and its result conversion
func (c *MsgAndResultConversion) Validate() error {
	if c == nil {
		return nil
	}
	if err := c.MsgConversion.Validate(); err != nil {
		return err
	}
	if c.Result != nil {
		if err := c.Result.Validate(); err != nil {
			return fmt.Errorf("result: %w", err)
		}
		if _, ok := c.Result.Rename(); ok {
			return invalid("result conversion cannot rename the message")
		}
	}
	return nil
}

// Validate checks one message conversion
func (c *MsgConversion) Validate() error {
	if c.Type != TypePerProperty {
		return invalid("unknown conversion type %q", c.Type)
	}
	if len(c.Rules) == 0 {
		return invalid("rules must not be empty")
	}

	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if err := r.validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[r.Path] {
			return invalid("rule %d: duplicate path %q", i, r.Path)
		}
		seen[r.Path] = true
	}
	return nil
}

func (r Rule) validate() error {
	if _, err := ParsePath(r.Path); err != nil {
		return err
	}

	switch r.Mode {
	case ModeFixedValue:
		if len(r.Value) == 0 {
			return invalid("fixed_value rule for %q requires value", r.Path)
		}
		if r.OriginalPath != "" {
			return invalid("fixed_value rule for %q cannot set original_path", r.Path)
		}
		t, err := InferType(r.Value)
		if err != nil {
			return err
		}
		if r.Path == NamePath && t != schema.TypeString {
			return invalid("%s must be a string", NamePath)
		}
	case ModeFromOriginal:
		if r.OriginalPath == "" {
			return invalid("from_original rule for %q requires original_path", r.Path)
		}
		if _, err := ParsePath(r.OriginalPath); err != nil {
			return err
		}
		if r.Path == NamePath {
			return invalid("%s can only be set with fixed_value", NamePath)
		}
	default:
		return invalid("unknown conversion_mode %q", r.Mode)
	}

	if r.Path != NamePath && strings.HasPrefix(r.Path, reservedPrefix) {
		return invalid("path %q uses a reserved prefix", r.Path)
	}
	return nil
}

// Rename returns the new message name set by the _ten.name rule
func (c *MsgConversion) Rename() (string, bool) {
	if c == nil {
		return "", false
	}
	for _, r := range c.Rules {
		if r.Path == NamePath && r.Mode == ModeFixedValue {
			var name string
			if err := json.Unmarshal(r.Value, &name); err == nil {
				return name, true
			}
		}
	}
	return "", false
}

// TargetName returns the message name the destination receives
func (c *MsgConversion) TargetName(name string) string {
	if renamed, ok := c.Rename(); ok {
		return renamed
	}
	return name
}
