package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidValue is returned when a property value does not match its schema
var ErrInvalidValue = errors.New("property does not match schema")

// ValidateValue validates a raw JSON property object against an object
// schema. A nil schema or empty value is always valid.
func ValidateValue(s *Attr, raw json.RawMessage) error {
	if s == nil || len(raw) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(ToJSONSchema(s)),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidValue, strings.Join(msgs, "; "))
}

// ToJSONSchema converts an attribute tree to a draft-07 JSON schema document
func ToJSONSchema(a *Attr) map[string]any {
	out := attrSchema(a)
	out["$schema"] = "http://json-schema.org/draft-07/schema#"
	return out
}

func attrSchema(a *Attr) map[string]any {
	switch a.Type {
	case TypeInt8:
		return intRange(math.MinInt8, math.MaxInt8)
	case TypeInt16:
		return intRange(math.MinInt16, math.MaxInt16)
	case TypeInt32:
		return intRange(math.MinInt32, math.MaxInt32)
	case TypeInt64:
		return map[string]any{"type": "integer"}
	case TypeUint8:
		return intRange(0, math.MaxUint8)
	case TypeUint16:
		return intRange(0, math.MaxUint16)
	case TypeUint32:
		return intRange(0, math.MaxUint32)
	case TypeUint64:
		return map[string]any{"type": "integer", "minimum": 0}
	case TypeFloat32, TypeFloat64:
		return map[string]any{"type": "number"}
	case TypeBool:
		return map[string]any{"type": "boolean"}
	case TypeString:
		return map[string]any{"type": "string"}
	case TypeArray:
		out := map[string]any{"type": "array"}
		if a.Items != nil {
			out["items"] = attrSchema(a.Items)
		}
		return out
	case TypeObject:
		props := make(map[string]any, len(a.Properties))
		for name, p := range a.Properties {
			props[name] = attrSchema(p)
		}
		out := map[string]any{"type": "object", "properties": props}
		if len(a.Required) > 0 {
			out["required"] = append([]string(nil), a.Required...)
		}
		return out
	}
	// buf has no JSON representation to constrain
	return map[string]any{}
}

func intRange(lo, hi int64) map[string]any {
	return map[string]any{"type": "integer", "minimum": lo, "maximum": hi}
}
