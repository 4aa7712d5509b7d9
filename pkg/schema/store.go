package schema

import (
	"errors"
	"fmt"
)

// ErrInvalidSchema is returned when an api section is malformed
var ErrInvalidSchema = errors.New("invalid schema")

// CmdSchema holds a command's message schema and its result schema
type CmdSchema struct {
	Msg    *Attr
	Result *Attr
}

// Store indexes a manifest's api section by message kind, direction and name
type Store struct {
	Property *Attr

	CmdIn         map[string]*CmdSchema
	CmdOut        map[string]*CmdSchema
	DataIn        map[string]*Attr
	DataOut       map[string]*Attr
	AudioFrameIn  map[string]*Attr
	AudioFrameOut map[string]*Attr
	VideoFrameIn  map[string]*Attr
	VideoFrameOut map[string]*Attr
}

// NewStore builds a Store from an api section. A nil api yields a nil store,
// meaning the package declares no contracts at all.
func NewStore(api *API) (*Store, error) {
	if api == nil {
		return nil, nil
	}
	if err := ValidateAPI(api); err != nil {
		return nil, err
	}

	s := &Store{
		Property:      objectOf(api.Property, api.Required),
		CmdIn:         cmdMap(api.CmdIn),
		CmdOut:        cmdMap(api.CmdOut),
		DataIn:        msgMap(api.DataIn),
		DataOut:       msgMap(api.DataOut),
		AudioFrameIn:  msgMap(api.AudioFrameIn),
		AudioFrameOut: msgMap(api.AudioFrameOut),
		VideoFrameIn:  msgMap(api.VideoFrameIn),
		VideoFrameOut: msgMap(api.VideoFrameOut),
	}
	return s, nil
}

func cmdMap(list []MsgSchema) map[string]*CmdSchema {
	out := make(map[string]*CmdSchema, len(list))
	for _, m := range list {
		cs := &CmdSchema{Msg: objectOf(m.Property, m.Required)}
		if m.Result != nil {
			cs.Result = objectOf(m.Result.Property, m.Result.Required)
		}
		out[m.Name] = cs
	}
	return out
}

func msgMap(list []MsgSchema) map[string]*Attr {
	out := make(map[string]*Attr, len(list))
	for _, m := range list {
		out[m.Name] = objectOf(m.Property, m.Required)
	}
	return out
}

// Msg returns the message schema for (kind, dir, name), or nil when the
// store declares none.
func (s *Store) Msg(kind MsgType, dir Direction, name string) *Attr {
	if s == nil {
		return nil
	}
	if kind == MsgCmd {
		if c := s.Cmd(dir, name); c != nil {
			return c.Msg
		}
		return nil
	}

	var m map[string]*Attr
	switch kind {
	case MsgData:
		m = pick(dir, s.DataIn, s.DataOut)
	case MsgAudioFrame:
		m = pick(dir, s.AudioFrameIn, s.AudioFrameOut)
	case MsgVideoFrame:
		m = pick(dir, s.VideoFrameIn, s.VideoFrameOut)
	}
	return m[name]
}

// Cmd returns the command schema for (dir, name), or nil
func (s *Store) Cmd(dir Direction, name string) *CmdSchema {
	if s == nil {
		return nil
	}
	if dir == DirIn {
		return s.CmdIn[name]
	}
	return s.CmdOut[name]
}

func pick(dir Direction, in, out map[string]*Attr) map[string]*Attr {
	if dir == DirIn {
		return in
	}
	return out
}

// ValidateAPI checks an api section for structural errors
func ValidateAPI(api *API) error {
	if err := validateObject("property", api.Property, api.Required); err != nil {
		return err
	}
	for _, kind := range MsgTypes {
		for _, dir := range []Direction{DirIn, DirOut} {
			field := fmt.Sprintf("%s_%s", kind, dir)
			seen := make(map[string]bool)
			for i, m := range api.list(kind, dir) {
				if m.Name == "" {
					return fmt.Errorf("%w: %s[%d]: name cannot be empty", ErrInvalidSchema, field, i)
				}
				if seen[m.Name] {
					return fmt.Errorf("%w: %s: duplicate message %q", ErrInvalidSchema, field, m.Name)
				}
				seen[m.Name] = true

				where := fmt.Sprintf("%s.%s", field, m.Name)
				if err := validateObject(where, m.Property, m.Required); err != nil {
					return err
				}
				if m.Result == nil {
					continue
				}
				if kind != MsgCmd {
					return fmt.Errorf("%w: %s: result is only allowed on commands", ErrInvalidSchema, where)
				}
				if err := validateObject(where+".result", m.Result.Property, m.Result.Required); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ValidateAttr checks one attribute subtree
func ValidateAttr(path string, a *Attr) error {
	if a == nil {
		return fmt.Errorf("%w: %s: attribute cannot be null", ErrInvalidSchema, path)
	}
	if !ValidTypes[a.Type] {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidSchema, path, a.Type)
	}
	switch a.Type {
	case TypeArray:
		if a.Items == nil {
			return fmt.Errorf("%w: %s: array requires items", ErrInvalidSchema, path)
		}
		return ValidateAttr(path+"[]", a.Items)
	case TypeObject:
		return validateObject(path, a.Properties, a.Required)
	}
	if a.Items != nil || a.Properties != nil || len(a.Required) > 0 {
		return fmt.Errorf("%w: %s: scalar %s cannot carry items, properties or required", ErrInvalidSchema, path, a.Type)
	}
	return nil
}

func validateObject(path string, props map[string]*Attr, required []string) error {
	for name, attr := range props {
		if err := ValidateAttr(path+"."+name, attr); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(required))
	for _, r := range required {
		if seen[r] {
			return fmt.Errorf("%w: %s: duplicate required entry %q", ErrInvalidSchema, path, r)
		}
		seen[r] = true
		if _, ok := props[r]; !ok {
			return fmt.Errorf("%w: %s: required entry %q is not a declared property", ErrInvalidSchema, path, r)
		}
	}
	return nil
}
