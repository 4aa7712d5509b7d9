package graph

import (
	"encoding/json"
	"fmt"

	"github.com/TEN-framework/ten-framework-sub001/pkg/msgconversion"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

// Checker supplies the package knowledge graph mutations depend on.
// A nil Checker skips schema and property checks.
type Checker interface {
	// CheckConnection verifies the schemas of one source→destination edge
	CheckConnection(g *Graph, src Loc, kind schema.MsgType, msgName string, dest Destination) error

	// ValidateProperty verifies a node property against its addon's property schema
	ValidateProperty(app *string, addon string, property json.RawMessage) error
}

// AddExtensionNode appends a node after checking app validity, app
// consistency with existing nodes and (app, name) uniqueness
func (g *Graph) AddExtensionNode(node Node, checker Checker) error {
	if node.Type == "" {
		node.Type = NodeTypeExtension
	}
	if err := CheckApp(node.App); err != nil {
		return err
	}
	if len(g.Nodes) > 0 && (node.App != nil) != g.usesApp() {
		return violation(MixedApp, "node %s does not follow the app declaration of the other nodes", node.Loc())
	}
	if g.FindNode(node.Loc()) >= 0 {
		return violation(DuplicateNode, "node %s already exists", node.Loc())
	}
	if checker != nil && len(node.Property) > 0 {
		if err := checker.ValidateProperty(node.App, node.Addon, node.Property); err != nil {
			return fmt.Errorf("node %s: %w", node.Loc(), err)
		}
	}

	return g.apply(func(next *Graph) error {
		next.Nodes = append(next.Nodes, node)
		return nil
	})
}

// DeleteExtensionNode removes the node matching name, addon, app and group,
// then sweeps every connection reference to it
func (g *Graph) DeleteExtensionNode(name, addon string, app *string, group string) error {
	if err := CheckApp(app); err != nil {
		return err
	}

	idx := -1
	for i, n := range g.Nodes {
		if n.Name == name && n.Addon == addon && SameApp(n.App, app) && n.ExtensionGroup == group {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s (addon %s)", ErrUnknownExtension, Loc{App: app, Extension: name}, addon)
	}

	return g.apply(func(next *Graph) error {
		next.Nodes = append(next.Nodes[:idx], next.Nodes[idx+1:]...)
		next.sweep(Loc{App: app, Extension: name})
		return nil
	})
}

// apply runs fn on a clone and commits it only if the result is valid
func (g *Graph) apply(fn func(next *Graph) error) error {
	next := g.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*g = *next
	return nil
}

// sweep drops every connection sourced at loc and every destination
// reaching loc, then collapses what became empty
func (g *Graph) sweep(loc Loc) {
	kept := g.Connections[:0]
	for _, c := range g.Connections {
		if c.Loc().Equal(loc) {
			continue
		}
		for _, kind := range schema.MsgTypes {
			flows := c.Flows(kind)
			*flows = removeDest(*flows, func(d Destination) bool { return d.Loc().Equal(loc) })
		}
		if !c.IsEmpty() {
			kept = append(kept, c)
		}
	}
	g.setConnections(kept)
}

func removeDest(flows []MessageFlow, match func(Destination) bool) []MessageFlow {
	var out []MessageFlow
	for _, f := range flows {
		var dest []Destination
		for _, d := range f.Dest {
			if !match(d) {
				dest = append(dest, d)
			}
		}
		if len(dest) > 0 {
			f.Dest = dest
			out = append(out, f)
		}
	}
	return out
}

func (g *Graph) setConnections(conns []Connection) {
	if len(conns) == 0 {
		g.Connections = nil
		return
	}
	g.Connections = conns
}

// AddConnection routes msgName of the given kind from src to dest.
//
// Both endpoints must be nodes; the checker verifies schemas (through conv
// when set). An identical route is rejected.
func (g *Graph) AddConnection(src Loc, kind schema.MsgType, msgName string, dest Loc,
	conv *msgconversion.MsgAndResultConversion, checker Checker) error {
	if _, err := schema.ParseMsgType(string(kind)); err != nil {
		return err
	}
	if msgName == "" {
		return violation(InvalidNode, "message name must not be empty")
	}
	for _, l := range []Loc{src, dest} {
		if err := CheckApp(l.App); err != nil {
			return err
		}
		if g.FindNode(l) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownExtension, l)
		}
	}
	if err := conv.Validate(); err != nil {
		return err
	}

	d := Destination{App: dest.App, Extension: dest.Extension, MsgConversion: conv}
	if checker != nil {
		if err := checker.CheckConnection(g, src, kind, msgName, d); err != nil {
			return err
		}
	}

	return g.apply(func(next *Graph) error {
		ci := next.FindConnection(src)
		if ci < 0 {
			next.Connections = append(next.Connections, Connection{App: src.App, Extension: src.Extension})
			ci = len(next.Connections) - 1
		}
		flows := next.Connections[ci].Flows(kind)

		fi := -1
		for i, f := range *flows {
			if f.Name == msgName {
				fi = i
				break
			}
		}
		if fi < 0 {
			*flows = append(*flows, MessageFlow{Name: msgName})
			fi = len(*flows) - 1
		}

		for _, existing := range (*flows)[fi].Dest {
			if existing.Loc().Equal(dest) {
				return violation(DuplicateDestination, "%s %q from %s to %s already exists", kind, msgName, src, dest)
			}
		}
		(*flows)[fi].Dest = append((*flows)[fi].Dest, d)
		return nil
	})
}

// DeleteConnection removes one destination and collapses emptied flows and
// connections
func (g *Graph) DeleteConnection(src Loc, kind schema.MsgType, msgName string, dest Loc) error {
	for _, l := range []Loc{src, dest} {
		if err := CheckApp(l.App); err != nil {
			return err
		}
	}

	ci := g.FindConnection(src)
	if ci < 0 {
		return fmt.Errorf("%w: no connection from %s", ErrConnectionNotFound, src)
	}
	flows := g.Connections[ci].Flows(kind)
	if flows == nil {
		return fmt.Errorf("unknown message type: %q", kind)
	}

	found := false
	for _, f := range *flows {
		if f.Name != msgName {
			continue
		}
		for _, d := range f.Dest {
			if d.Loc().Equal(dest) {
				found = true
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: %s %q from %s to %s", ErrConnectionNotFound, kind, msgName, src, dest)
	}

	return g.apply(func(next *Graph) error {
		flows := next.Connections[ci].Flows(kind)
		var kept []MessageFlow
		for _, f := range *flows {
			if f.Name == msgName {
				kept = append(kept, removeDest([]MessageFlow{f}, func(d Destination) bool { return d.Loc().Equal(dest) })...)
				continue
			}
			kept = append(kept, f)
		}
		*flows = kept

		if next.Connections[ci].IsEmpty() {
			next.setConnections(append(next.Connections[:ci], next.Connections[ci+1:]...))
		}
		return nil
	})
}

// ReplaceNode swaps the addon and property of an existing node in place
func (g *Graph) ReplaceNode(name string, app *string, addon string, property json.RawMessage, checker Checker) error {
	if err := CheckApp(app); err != nil {
		return err
	}
	if addon == "" {
		return violation(InvalidNode, "addon must not be empty")
	}
	loc := Loc{App: app, Extension: name}
	idx := g.FindNode(loc)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownExtension, loc)
	}
	if checker != nil && len(property) > 0 {
		if err := checker.ValidateProperty(app, addon, property); err != nil {
			return fmt.Errorf("node %s: %w", loc, err)
		}
	}

	return g.apply(func(next *Graph) error {
		next.Nodes[idx].Addon = addon
		next.Nodes[idx].Property = cloneRaw(property)
		return nil
	})
}

// UpdateGraph replaces nodes and connections atomically: g is untouched
// unless the new graph satisfies every invariant and passes the checker
func (g *Graph) UpdateGraph(nodes []Node, connections []Connection, checker Checker) error {
	next := (&Graph{Nodes: nodes, Connections: connections}).Clone()
	for i := range next.Nodes {
		if next.Nodes[i].Type == "" {
			next.Nodes[i].Type = NodeTypeExtension
		}
	}
	next.setConnections(next.Connections)

	if err := next.Validate(); err != nil {
		return err
	}
	if checker != nil {
		if err := next.checkAll(checker); err != nil {
			return err
		}
	}

	*g = *next
	return nil
}

func (g *Graph) checkAll(checker Checker) error {
	for _, n := range g.Nodes {
		if len(n.Property) == 0 {
			continue
		}
		if err := checker.ValidateProperty(n.App, n.Addon, n.Property); err != nil {
			return fmt.Errorf("node %s: %w", n.Loc(), err)
		}
	}
	for ci := range g.Connections {
		c := &g.Connections[ci]
		for _, kind := range schema.MsgTypes {
			for _, f := range *c.Flows(kind) {
				for _, d := range f.Dest {
					if err := checker.CheckConnection(g, c.Loc(), kind, f.Name, d); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
