package schema

import (
	"fmt"
	"sort"
)

// Type is the declared type of a property attribute
type Type string

const (
	TypeInt8    Type = "int8"
	TypeInt16   Type = "int16"
	TypeInt32   Type = "int32"
	TypeInt64   Type = "int64"
	TypeUint8   Type = "uint8"
	TypeUint16  Type = "uint16"
	TypeUint32  Type = "uint32"
	TypeUint64  Type = "uint64"
	TypeFloat32 Type = "float32"
	TypeFloat64 Type = "float64"
	TypeBool    Type = "bool"
	TypeString  Type = "string"
	TypeBuf     Type = "buf"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// ValidTypes is the set of all attribute types a manifest may declare
var ValidTypes = map[Type]bool{
	TypeInt8: true, TypeInt16: true, TypeInt32: true, TypeInt64: true,
	TypeUint8: true, TypeUint16: true, TypeUint32: true, TypeUint64: true,
	TypeFloat32: true, TypeFloat64: true,
	TypeBool: true, TypeString: true, TypeBuf: true,
	TypeArray: true, TypeObject: true,
}

// MsgType is one of the four message kinds exchanged between extensions
type MsgType string

const (
	MsgCmd        MsgType = "cmd"
	MsgData       MsgType = "data"
	MsgAudioFrame MsgType = "audio_frame"
	MsgVideoFrame MsgType = "video_frame"
)

// MsgTypes lists the message kinds in their canonical order
var MsgTypes = []MsgType{MsgCmd, MsgData, MsgAudioFrame, MsgVideoFrame}

// ParseMsgType validates a message kind string
func ParseMsgType(s string) (MsgType, error) {
	for _, t := range MsgTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown message type: %q", s)
}

// Direction distinguishes inbound from outbound message declarations
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// Attr is a node of the property attribute tree.
//
// Type selects the variant: scalars use only Type, arrays use Items, objects
// use Properties and Required.
type Attr struct {
	Type       Type             `json:"type"`
	Items      *Attr            `json:"items,omitempty"`
	Properties map[string]*Attr `json:"properties,omitempty"`
	Required   []string         `json:"required,omitempty"`
}

// NewObject returns an empty object attribute
func NewObject() *Attr {
	return &Attr{Type: TypeObject, Properties: map[string]*Attr{}}
}

// Clone returns a deep copy of a
func (a *Attr) Clone() *Attr {
	if a == nil {
		return nil
	}
	out := &Attr{Type: a.Type, Items: a.Items.Clone()}
	if a.Properties != nil {
		out.Properties = make(map[string]*Attr, len(a.Properties))
		for k, v := range a.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	if a.Required != nil {
		out.Required = append([]string(nil), a.Required...)
	}
	return out
}

// IsRequired reports whether name is listed in a's required set
func (a *Attr) IsRequired(name string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Required {
		if r == name {
			return true
		}
	}
	return false
}

// AddRequired appends name to the required set if missing
func (a *Attr) AddRequired(name string) {
	if !a.IsRequired(name) {
		a.Required = append(a.Required, name)
	}
}

// propertyNames returns the property names in sorted order
func (a *Attr) propertyNames() []string {
	names := make([]string, 0, len(a.Properties))
	for k := range a.Properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// API is the "api" section of a manifest
type API struct {
	Property      map[string]*Attr `json:"property,omitempty"`
	Required      []string         `json:"required,omitempty"`
	CmdIn         []MsgSchema      `json:"cmd_in,omitempty"`
	CmdOut        []MsgSchema      `json:"cmd_out,omitempty"`
	DataIn        []MsgSchema      `json:"data_in,omitempty"`
	DataOut       []MsgSchema      `json:"data_out,omitempty"`
	AudioFrameIn  []MsgSchema      `json:"audio_frame_in,omitempty"`
	AudioFrameOut []MsgSchema      `json:"audio_frame_out,omitempty"`
	VideoFrameIn  []MsgSchema      `json:"video_frame_in,omitempty"`
	VideoFrameOut []MsgSchema      `json:"video_frame_out,omitempty"`
}

// MsgSchema declares one named message
type MsgSchema struct {
	Name     string           `json:"name"`
	Property map[string]*Attr `json:"property,omitempty"`
	Required []string         `json:"required,omitempty"`
	Result   *ResultSchema    `json:"result,omitempty"`
}

// ResultSchema declares the result a command returns to its caller
type ResultSchema struct {
	Property map[string]*Attr `json:"property,omitempty"`
	Required []string         `json:"required,omitempty"`
}

// list returns the declarations for one (kind, direction) pair
func (api *API) list(kind MsgType, dir Direction) []MsgSchema {
	if api == nil {
		return nil
	}
	switch kind {
	case MsgCmd:
		if dir == DirIn {
			return api.CmdIn
		}
		return api.CmdOut
	case MsgData:
		if dir == DirIn {
			return api.DataIn
		}
		return api.DataOut
	case MsgAudioFrame:
		if dir == DirIn {
			return api.AudioFrameIn
		}
		return api.AudioFrameOut
	case MsgVideoFrame:
		if dir == DirIn {
			return api.VideoFrameIn
		}
		return api.VideoFrameOut
	}
	return nil
}

// objectOf wraps a property map and required list into an object attribute.
// A nil map yields nil: the message carries no declared contract.
func objectOf(props map[string]*Attr, required []string) *Attr {
	if props == nil && len(required) == 0 {
		return nil
	}
	obj := NewObject()
	for k, v := range props {
		obj.Properties[k] = v.Clone()
	}
	if len(required) > 0 {
		obj.Required = append([]string(nil), required...)
	}
	return obj
}
