package msgconversion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

// InferType maps a fixed JSON literal to the attribute type it produces.
//
// Negative integers are int64, other integers uint64, numbers with a
// fraction or exponent float64. Objects, arrays and null are unsupported.
func InferType(raw json.RawMessage) (schema.Type, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}

	switch val := v.(type) {
	case bool:
		return schema.TypeBool, nil
	case string:
		return schema.TypeString, nil
	case json.Number:
		s := val.String()
		if strings.ContainsAny(s, ".eE") {
			return schema.TypeFloat64, nil
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			if strings.HasPrefix(s, "-") {
				return schema.TypeInt64, nil
			}
			return schema.TypeUint64, nil
		}
		if _, err := strconv.ParseUint(s, 10, 64); err == nil {
			return schema.TypeUint64, nil
		}
		return schema.TypeFloat64, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedValue, string(raw))
	}
}

// DeriveTargetSchema applies c to the source message schema and returns the
// schema the destination receives.
//
// A nil source yields nil (no contract) unless every rule is a fixed value,
// in which case the target is fully determined by the rules.
func DeriveTargetSchema(src *schema.Attr, c *MsgConversion) (*schema.Attr, error) {
	if c == nil {
		return src, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if src == nil {
		for _, r := range c.Rules {
			if r.Mode == ModeFromOriginal {
				return nil, nil
			}
		}
	}

	var target *schema.Attr
	if c.KeepOriginal && src != nil {
		target = src.Clone()
	} else {
		target = schema.NewObject()
	}
	if target.Properties == nil {
		target.Properties = map[string]*schema.Attr{}
	}

	for i, r := range c.Rules {
		if r.Path == NamePath {
			continue
		}
		if err := applyRule(target, src, r); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Path, err)
		}
	}
	return target, nil
}

func applyRule(target, src *schema.Attr, r Rule) error {
	segs, err := ParsePath(r.Path)
	if err != nil {
		return err
	}

	var (
		attr     *schema.Attr
		required bool
	)
	switch r.Mode {
	case ModeFixedValue:
		t, err := InferType(r.Value)
		if err != nil {
			return err
		}
		attr = &schema.Attr{Type: t}
		required = true
	case ModeFromOriginal:
		origSegs, err := ParsePath(r.OriginalPath)
		if err != nil {
			return err
		}
		orig, origRequired, ok := lookup(src, origSegs)
		if !ok {
			return invalid("original_path %q not found in source schema", r.OriginalPath)
		}
		attr = orig.Clone()
		required = origRequired
	}

	parent, err := ensureParent(target, segs)
	if err != nil {
		return err
	}

	last := segs[len(segs)-1]
	if last.IsIdx {
		parent.Items = attr
		return nil
	}
	parent.Properties[last.Name] = attr
	if required {
		parent.AddRequired(last.Name)
	}
	return nil
}

// lookup finds the attribute at segs and reports whether its containing
// object lists it as required
func lookup(root *schema.Attr, segs []Segment) (*schema.Attr, bool, bool) {
	cur := root
	required := false
	for _, s := range segs {
		if cur == nil {
			return nil, false, false
		}
		if s.IsIdx {
			if cur.Type != schema.TypeArray || cur.Items == nil {
				return nil, false, false
			}
			cur, required = cur.Items, false
			continue
		}
		if cur.Type != schema.TypeObject {
			return nil, false, false
		}
		next, ok := cur.Properties[s.Name]
		if !ok {
			return nil, false, false
		}
		required = cur.IsRequired(s.Name)
		cur = next
	}
	return cur, required, cur != nil
}

// ensureParent walks to the container of the last segment, creating
// intermediate objects and arrays as the path demands
func ensureParent(root *schema.Attr, segs []Segment) (*schema.Attr, error) {
	cur := root
	for i, s := range segs[:len(segs)-1] {
		next := segs[i+1]
		var child *schema.Attr
		if s.IsIdx {
			if cur.Type != schema.TypeArray {
				return nil, invalid("%s is not an array", s)
			}
			child = cur.Items
			if child == nil {
				child = newContainer(next)
				cur.Items = child
			}
		} else {
			if cur.Type != schema.TypeObject {
				return nil, invalid("%s is not an object", s)
			}
			child = cur.Properties[s.Name]
			if child == nil {
				child = newContainer(next)
				cur.Properties[s.Name] = child
			}
		}
		if child.Type == schema.TypeObject && child.Properties == nil {
			child.Properties = map[string]*schema.Attr{}
		}
		cur = child
	}

	last := segs[len(segs)-1]
	if last.IsIdx && cur.Type != schema.TypeArray {
		return nil, invalid("%s is indexed but not an array", last)
	}
	if !last.IsIdx && cur.Type != schema.TypeObject {
		return nil, invalid("parent of %s is not an object", last)
	}
	return cur, nil
}

func newContainer(next Segment) *schema.Attr {
	if next.IsIdx {
		return &schema.Attr{Type: schema.TypeArray}
	}
	return schema.NewObject()
}
