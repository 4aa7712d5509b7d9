package schema

import (
	"errors"
	"fmt"
)

// ErrSchemaIncompatible is returned when a producer schema cannot feed a consumer schema
var ErrSchemaIncompatible = errors.New("schema incompatible")

// IncompatibleError describes where two schemas diverge
type IncompatibleError struct {
	Path   string
	Reason string
}

func (e *IncompatibleError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrSchemaIncompatible, e.Reason)
	}
	return fmt.Sprintf("%s at %s: %s", ErrSchemaIncompatible, e.Path, e.Reason)
}

func (e *IncompatibleError) Unwrap() error {
	return ErrSchemaIncompatible
}

func incompatible(path, format string, args ...any) error {
	return &IncompatibleError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Compatible decides whether values described by src may be delivered where
// dest is expected. A missing schema on either side is compatible.
func Compatible(src, dest *Attr) error {
	if src == nil || dest == nil {
		return nil
	}
	return assignable(src, dest, "")
}

// CmdCompatible checks a command edge in both directions: the request flows
// caller→callee, the result flows callee→caller.
//
// With lenientResult, a result declared on only one side is accepted.
func CmdCompatible(caller, callee *CmdSchema, lenientResult bool) error {
	var callerMsg, callerResult, calleeMsg, calleeResult *Attr
	if caller != nil {
		callerMsg, callerResult = caller.Msg, caller.Result
	}
	if callee != nil {
		calleeMsg, calleeResult = callee.Msg, callee.Result
	}

	if err := Compatible(callerMsg, calleeMsg); err != nil {
		return err
	}
	return ResultCompatible(calleeResult, callerResult, caller != nil && callee != nil, lenientResult)
}

// ResultCompatible checks a result schema returned by the callee against the
// one the caller expects. bothDeclared is false when either command is not
// declared at all, in which case there is no contract to verify.
func ResultCompatible(calleeResult, callerResult *Attr, bothDeclared, lenientResult bool) error {
	if !bothDeclared {
		return nil
	}
	if !lenientResult && (calleeResult == nil) != (callerResult == nil) {
		if calleeResult == nil {
			return incompatible("result", "caller expects a result the callee does not declare")
		}
		return incompatible("result", "callee declares a result the caller does not expect")
	}
	if err := Compatible(calleeResult, callerResult); err != nil {
		var ie *IncompatibleError
		if errors.As(err, &ie) {
			return &IncompatibleError{Path: joinPath("result", ie.Path), Reason: ie.Reason}
		}
		return err
	}
	return nil
}

func assignable(src, dest *Attr, path string) error {
	if src.Type != dest.Type {
		return incompatible(path, "type mismatch: source %s, destination %s", src.Type, dest.Type)
	}

	switch dest.Type {
	case TypeArray:
		if src.Items == nil || dest.Items == nil {
			return nil
		}
		return assignable(src.Items, dest.Items, path+"[]")
	case TypeObject:
		for _, name := range dest.propertyNames() {
			srcProp, ok := src.Properties[name]
			if !ok {
				continue
			}
			if err := assignable(srcProp, dest.Properties[name], joinPath(path, name)); err != nil {
				return err
			}
		}
		for _, r := range dest.Required {
			if !src.IsRequired(r) {
				return incompatible(path, "destination requires %q which the source does not guarantee", r)
			}
		}
	}
	return nil
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	if name == "" {
		return base
	}
	return base + "." + name
}
