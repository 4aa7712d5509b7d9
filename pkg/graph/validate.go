package graph

import (
	"errors"
	"fmt"

	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

var (
	// ErrInvariantViolated is the sentinel behind every InvariantError
	ErrInvariantViolated = errors.New("graph invariant violated")

	// ErrUnknownExtension is returned when a referenced node does not exist
	ErrUnknownExtension = errors.New("unknown extension")

	// ErrConnectionNotFound is returned when deleting a missing connection
	ErrConnectionNotFound = errors.New("connection not found")
)

// InvariantKind names the invariant a graph broke
type InvariantKind string

const (
	InvalidNode          InvariantKind = "invalid_node"
	InvalidApp           InvariantKind = "invalid_app"
	DuplicateNode        InvariantKind = "duplicate_node"
	MixedApp             InvariantKind = "mixed_app"
	DanglingReference    InvariantKind = "dangling_reference"
	DuplicateConnection  InvariantKind = "duplicate_connection"
	DuplicateFlow        InvariantKind = "duplicate_flow"
	DuplicateDestination InvariantKind = "duplicate_destination"
	EmptyFlow            InvariantKind = "empty_flow"
	InvalidMsgConversion InvariantKind = "invalid_msg_conversion"
)

// InvariantError reports a broken graph invariant
type InvariantError struct {
	Kind   InvariantKind
	Detail string
	Err    error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s (%s): %s", ErrInvariantViolated, e.Kind, e.Detail)
}

// Unwrap exposes both the sentinel and the underlying cause
func (e *InvariantError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvariantViolated, e.Err}
	}
	return []error{ErrInvariantViolated}
}

func violation(kind InvariantKind, format string, args ...any) error {
	return &InvariantError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// CheckApp rejects the empty and "localhost" URIs
func CheckApp(app *string) error {
	if app == nil {
		return nil
	}
	switch *app {
	case "":
		return violation(InvalidApp, "app URI must not be empty")
	case Localhost:
		return violation(InvalidApp, "app URI must not be %q", Localhost)
	}
	return nil
}

// Validate verifies every graph invariant
func (g *Graph) Validate() error {
	if err := g.validateNodes(); err != nil {
		return err
	}
	return g.validateConnections()
}

func (g *Graph) validateNodes() error {
	seen := make(map[string]bool, len(g.Nodes))
	withApp := 0
	for i, n := range g.Nodes {
		if n.Type != NodeTypeExtension {
			return violation(InvalidNode, "node %d: unsupported type %q", i, n.Type)
		}
		if n.Name == "" || n.Addon == "" {
			return violation(InvalidNode, "node %d: name and addon are required", i)
		}
		if err := CheckApp(n.App); err != nil {
			return fmt.Errorf("node %s: %w", n.Loc(), err)
		}
		key := n.Loc().String()
		if seen[key] {
			return violation(DuplicateNode, "node %s is declared twice", key)
		}
		seen[key] = true
		if n.App != nil {
			withApp++
		}
	}

	if withApp != 0 && withApp != len(g.Nodes) {
		return violation(MixedApp, "either every node declares app or none does")
	}
	return nil
}

// usesApp reports whether the nodes of g declare app URIs
func (g *Graph) usesApp() bool {
	return len(g.Nodes) > 0 && g.Nodes[0].App != nil
}

func (g *Graph) checkRef(loc Loc, role string) error {
	if err := CheckApp(loc.App); err != nil {
		return fmt.Errorf("%s %s: %w", role, loc, err)
	}
	if (loc.App != nil) != g.usesApp() {
		return violation(MixedApp, "%s %s does not follow the app declaration of the nodes", role, loc)
	}
	if g.FindNode(loc) < 0 {
		return violation(DanglingReference, "%s %s is not a node of the graph", role, loc)
	}
	return nil
}

func (g *Graph) validateConnections() error {
	if g.Connections != nil && len(g.Connections) == 0 {
		return violation(EmptyFlow, "connections must be absent rather than empty")
	}

	sources := make(map[string]bool, len(g.Connections))
	for ci := range g.Connections {
		c := &g.Connections[ci]
		if err := g.checkRef(c.Loc(), "source"); err != nil {
			return err
		}
		key := c.Loc().String()
		if sources[key] {
			return violation(DuplicateConnection, "connection from %s is declared twice", key)
		}
		sources[key] = true

		if c.IsEmpty() {
			return violation(EmptyFlow, "connection from %s has no message flow", key)
		}

		for _, kind := range schema.MsgTypes {
			if err := g.validateFlows(c, kind); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) validateFlows(c *Connection, kind schema.MsgType) error {
	names := make(map[string]bool)
	for _, f := range *c.Flows(kind) {
		if f.Name == "" {
			return violation(InvalidNode, "%s flow from %s has no name", kind, c.Loc())
		}
		if names[f.Name] {
			return violation(DuplicateFlow, "%s %q from %s is declared twice", kind, f.Name, c.Loc())
		}
		names[f.Name] = true

		if len(f.Dest) == 0 {
			return violation(EmptyFlow, "%s %q from %s has no destination", kind, f.Name, c.Loc())
		}
		dests := make(map[string]bool, len(f.Dest))
		for _, d := range f.Dest {
			if err := g.checkRef(d.Loc(), "destination"); err != nil {
				return err
			}
			if dests[d.Loc().String()] {
				return violation(DuplicateDestination, "%s %q from %s reaches %s twice", kind, f.Name, c.Loc(), d.Loc())
			}
			dests[d.Loc().String()] = true
			if err := d.MsgConversion.Validate(); err != nil {
				return &InvariantError{
					Kind:   InvalidMsgConversion,
					Detail: fmt.Sprintf("%s %q from %s to %s", kind, f.Name, c.Loc(), d.Loc()),
					Err:    err,
				}
			}
		}
	}
	return nil
}
