package msgconversion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

func fixed(path, value string) Rule {
	return Rule{Path: path, Mode: ModeFixedValue, Value: json.RawMessage(value)}
}

func fromOriginal(path, original string) Rule {
	return Rule{Path: path, Mode: ModeFromOriginal, OriginalPath: original}
}

func perProperty(keep bool, rules ...Rule) *MsgConversion {
	return &MsgConversion{Type: TypePerProperty, KeepOriginal: keep, Rules: rules}
}

func sourceSchema() *schema.Attr {
	return &schema.Attr{
		Type: schema.TypeObject,
		Properties: map[string]*schema.Attr{
			"x": {Type: schema.TypeInt32},
			"y": {Type: schema.TypeInt8},
			"nested": {
				Type: schema.TypeObject,
				Properties: map[string]*schema.Attr{
					"list": {Type: schema.TypeArray, Items: &schema.Attr{Type: schema.TypeString}},
				},
				Required: []string{"list"},
			},
		},
		Required: []string{"y"},
	}
}

func TestParsePath(t *testing.T) {
	t.Run("dotted with indexes", func(t *testing.T) {
		segs, err := ParsePath("a.b[0][2].c")
		require.NoError(t, err)
		require.Len(t, segs, 5)
		assert.Equal(t, "a", segs[0].Name)
		assert.Equal(t, "b", segs[1].Name)
		assert.True(t, segs[2].IsIdx)
		assert.Equal(t, 0, segs[2].Index)
		assert.Equal(t, 2, segs[3].Index)
		assert.Equal(t, "c", segs[4].Name)
	})

	for _, bad := range []string{"", "a..b", "a[", "a[x]", "[0]", "a[-1]", "a[0]b"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := ParsePath(bad)
			assert.ErrorIs(t, err, ErrConversionRuleInvalid)
		})
	}
}

func TestInferType(t *testing.T) {
	testCases := []struct {
		value string
		want  schema.Type
	}{
		{"7", schema.TypeUint64},
		{"0", schema.TypeUint64},
		{"-7", schema.TypeInt64},
		{"1.5", schema.TypeFloat64},
		{"1e3", schema.TypeFloat64},
		{"true", schema.TypeBool},
		{`"hi"`, schema.TypeString},
	}

	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			got, err := InferType(json.RawMessage(tc.value))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{"null", "[1]", `{"a":1}`} {
		t.Run("unsupported "+bad, func(t *testing.T) {
			_, err := InferType(json.RawMessage(bad))
			assert.ErrorIs(t, err, ErrUnsupportedValue)
		})
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name string
		conv *MsgConversion
		err  error
	}{
		{"valid", perProperty(false, fixed("a", "1")), nil},
		{"empty rules", perProperty(false), ErrConversionRuleInvalid},
		{"unknown type", &MsgConversion{Type: "whole", Rules: []Rule{fixed("a", "1")}}, ErrConversionRuleInvalid},
		{"fixed without value", perProperty(false, Rule{Path: "a", Mode: ModeFixedValue}), ErrConversionRuleInvalid},
		{"from_original without original_path", perProperty(false, Rule{Path: "a", Mode: ModeFromOriginal}), ErrConversionRuleInvalid},
		{"unknown mode", perProperty(false, Rule{Path: "a", Mode: "copy"}), ErrConversionRuleInvalid},
		{"duplicate path", perProperty(false, fixed("a", "1"), fixed("a", "2")), ErrConversionRuleInvalid},
		{"unsupported value", perProperty(false, fixed("a", "null")), ErrUnsupportedValue},
		{"rename must be string", perProperty(false, fixed(NamePath, "1")), ErrConversionRuleInvalid},
		{"reserved prefix", perProperty(false, fixed("_ten.other", "1")), ErrConversionRuleInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.conv.Validate()
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}

	t.Run("result cannot rename", func(t *testing.T) {
		c := &MsgAndResultConversion{
			MsgConversion: *perProperty(false, fixed("a", "1")),
			Result:        perProperty(false, fixed(NamePath, `"x"`)),
		}
		assert.ErrorIs(t, c.Validate(), ErrConversionRuleInvalid)
	})
}

func TestRename(t *testing.T) {
	c := perProperty(true, fixed(NamePath, `"renamed"`), fixed("a", "1"))

	name, ok := c.Rename()
	assert.True(t, ok)
	assert.Equal(t, "renamed", name)
	assert.Equal(t, "renamed", c.TargetName("orig"))

	var none *MsgConversion
	assert.Equal(t, "orig", none.TargetName("orig"))
}

func TestDeriveTargetSchema(t *testing.T) {
	t.Run("from_original keeps type and required-ness", func(t *testing.T) {
		got, err := DeriveTargetSchema(sourceSchema(), perProperty(false, fromOriginal("x", "y")))

		require.NoError(t, err)
		require.Contains(t, got.Properties, "x")
		assert.Equal(t, schema.TypeInt8, got.Properties["x"].Type)
		assert.Len(t, got.Properties, 1)
		assert.Equal(t, []string{"x"}, got.Required)
	})

	t.Run("keep_original starts from a clone", func(t *testing.T) {
		src := sourceSchema()
		got, err := DeriveTargetSchema(src, perProperty(true, fixed("z", `"v"`)))

		require.NoError(t, err)
		assert.Len(t, got.Properties, 4)
		assert.Equal(t, schema.TypeString, got.Properties["z"].Type)
		assert.True(t, got.IsRequired("z"))
		assert.NotContains(t, src.Properties, "z")
	})

	t.Run("creates intermediate containers", func(t *testing.T) {
		got, err := DeriveTargetSchema(sourceSchema(), perProperty(false,
			fixed("a.b", "-1"),
			fromOriginal("c[0]", "nested.list[0]"),
			fixed("d[0].e", "true"),
		))

		require.NoError(t, err)
		assert.Equal(t, schema.TypeObject, got.Properties["a"].Type)
		assert.Equal(t, schema.TypeInt64, got.Properties["a"].Properties["b"].Type)
		assert.Equal(t, schema.TypeArray, got.Properties["c"].Type)
		assert.Equal(t, schema.TypeString, got.Properties["c"].Items.Type)
		assert.Equal(t, schema.TypeBool, got.Properties["d"].Items.Properties["e"].Type)
	})

	t.Run("missing original path", func(t *testing.T) {
		_, err := DeriveTargetSchema(sourceSchema(), perProperty(false, fromOriginal("x", "missing")))
		assert.ErrorIs(t, err, ErrConversionRuleInvalid)
	})

	t.Run("rename rule adds no property", func(t *testing.T) {
		got, err := DeriveTargetSchema(sourceSchema(), perProperty(false, fixed(NamePath, `"other"`), fixed("a", "1")))
		require.NoError(t, err)
		assert.Len(t, got.Properties, 1)
	})

	t.Run("nil source", func(t *testing.T) {
		got, err := DeriveTargetSchema(nil, perProperty(false, fromOriginal("x", "y")))
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = DeriveTargetSchema(nil, perProperty(false, fixed("x", "1")))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, schema.TypeUint64, got.Properties["x"].Type)
	})

	t.Run("fixed value parent is a scalar", func(t *testing.T) {
		_, err := DeriveTargetSchema(sourceSchema(), perProperty(true, fixed("x.y", "1")))
		assert.ErrorIs(t, err, ErrConversionRuleInvalid)
	})
}

func TestConversionBridge(t *testing.T) {
	dest := &schema.Attr{
		Type:       schema.TypeObject,
		Properties: map[string]*schema.Attr{"x": {Type: schema.TypeInt8}},
	}

	t.Run("same name copy keeps width mismatch", func(t *testing.T) {
		got, err := DeriveTargetSchema(sourceSchema(), perProperty(false, fromOriginal("x", "x")))
		require.NoError(t, err)
		assert.ErrorIs(t, schema.Compatible(got, dest), schema.ErrSchemaIncompatible)
	})

	t.Run("fixed literal is inferred as uint64", func(t *testing.T) {
		got, err := DeriveTargetSchema(sourceSchema(), perProperty(false, fixed("x", "7")))
		require.NoError(t, err)
		assert.ErrorIs(t, schema.Compatible(got, dest), schema.ErrSchemaIncompatible)
	})

	t.Run("compatible renamed source property", func(t *testing.T) {
		got, err := DeriveTargetSchema(sourceSchema(), perProperty(false, fromOriginal("x", "y")))
		require.NoError(t, err)
		assert.NoError(t, schema.Compatible(got, dest))
	})
}

func TestMsgAndResultConversionJSON(t *testing.T) {
	data := []byte(`{
		"type": "per_property",
		"keep_original": true,
		"rules": [{"path": "x", "conversion_mode": "from_original", "original_path": "y"}],
		"result": {"type": "per_property", "rules": [{"path": "ok", "conversion_mode": "fixed_value", "value": true}]}
	}`)

	var c MsgAndResultConversion
	require.NoError(t, json.Unmarshal(data, &c))

	assert.True(t, c.KeepOriginal)
	require.Len(t, c.Rules, 1)
	assert.Equal(t, ModeFromOriginal, c.Rules[0].Mode)
	require.NotNil(t, c.Result)
	assert.Equal(t, "true", string(c.Result.Rules[0].Value))
	assert.NoError(t, c.Validate())
}
