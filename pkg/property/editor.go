package property

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

// UpdateNodes removes then appends nodes in the named graph. Removal
// matches the full (type, name, addon, app, extension_group) tuple and
// sweeps connections that reference the removed node.
func (d *Document) UpdateNodes(graphName string, add, remove []graph.Node) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	gp, err := d.graphPath(graphName)
	if err != nil {
		return err
	}
	nodesPath := gp + ".nodes"

	for _, n := range remove {
		nodes := gjson.GetBytes(d.raw, nodesPath)
		idx := indexOf(nodes, func(r gjson.Result) bool { return matchNode(r, n) })
		if idx < 0 {
			return fmt.Errorf("%w: %s in graph %q", graph.ErrUnknownExtension, n.Loc(), graphName)
		}
		if err := d.delete(fmt.Sprintf("%s.%d", nodesPath, idx)); err != nil {
			return err
		}
		if err := d.sweepConnections(gp, n.Loc()); err != nil {
			return err
		}
	}

	for _, n := range add {
		if n.Type == "" {
			n.Type = graph.NodeTypeExtension
		}
		if err := d.appendItem(nodesPath, n); err != nil {
			return err
		}
	}
	return nil
}

// UpdateConnections removes then appends single routes in the named graph,
// collapsing flows and connections left empty
func (d *Document) UpdateConnections(graphName string, add, remove []graph.Route) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	gp, err := d.graphPath(graphName)
	if err != nil {
		return err
	}

	for _, r := range remove {
		if err := d.removeRoute(gp, r); err != nil {
			return err
		}
	}
	for _, r := range add {
		if err := d.addRoute(gp, r); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceNode rewrites addon and property of the node at node.Loc() without
// moving it
func (d *Document) ReplaceNode(graphName string, node graph.Node) error {
	gp, err := d.graphPath(graphName)
	if err != nil {
		return err
	}
	nodesPath := gp + ".nodes"
	idx := indexOf(gjson.GetBytes(d.raw, nodesPath), func(r gjson.Result) bool { return matchLoc(r, "name", node.Loc()) })
	if idx < 0 {
		return fmt.Errorf("%w: %s in graph %q", graph.ErrUnknownExtension, node.Loc(), graphName)
	}
	np := fmt.Sprintf("%s.%d", nodesPath, idx)

	if err := d.set(np+".addon", node.Addon); err != nil {
		return err
	}
	if len(node.Property) > 0 {
		return d.setRaw(np+".property", node.Property)
	}
	if gjson.GetBytes(d.raw, np+".property").Exists() {
		return d.delete(np + ".property")
	}
	return nil
}

// SetGraph rewrites nodes and connections of the named graph to match g.
// Entries already on disk are matched by identity and patched in place, so
// their keys keep their order; sibling keys of the graph are untouched.
func (d *Document) SetGraph(graphName string, g *graph.Graph) error {
	gp, err := d.graphPath(graphName)
	if err != nil {
		return err
	}

	nodes := g.Nodes
	if nodes == nil {
		nodes = []graph.Node{}
	}
	if err := d.patchValue(gp+".nodes", nodes); err != nil {
		return err
	}

	if len(g.Connections) == 0 {
		if gjson.GetBytes(d.raw, gp+".connections").Exists() {
			return d.delete(gp + ".connections")
		}
		return nil
	}
	return d.patchValue(gp+".connections", g.Connections)
}

func (d *Document) graphPath(name string) (string, error) {
	idx := indexOf(gjson.GetBytes(d.raw, graphsPath), func(r gjson.Result) bool {
		return r.Get("name").String() == name
	})
	if idx < 0 {
		return "", fmt.Errorf("%w: %q", ErrGraphNotFound, name)
	}
	return fmt.Sprintf("%s.%d", graphsPath, idx), nil
}

func (d *Document) addRoute(gp string, r graph.Route) error {
	connsPath := gp + ".connections"
	ci := indexOf(gjson.GetBytes(d.raw, connsPath), func(c gjson.Result) bool { return matchLoc(c, "extension", r.Src) })
	if ci < 0 {
		c := graph.Connection{App: r.Src.App, Extension: r.Src.Extension}
		flows := c.Flows(r.Kind)
		if flows == nil {
			return fmt.Errorf("unknown message type: %q", r.Kind)
		}
		*flows = []graph.MessageFlow{{Name: r.MsgName, Dest: []graph.Destination{r.Dest}}}
		return d.appendItem(connsPath, c)
	}

	kindPath := fmt.Sprintf("%s.%d.%s", connsPath, ci, r.Kind)
	fi := indexOf(gjson.GetBytes(d.raw, kindPath), func(f gjson.Result) bool { return f.Get("name").String() == r.MsgName })
	if fi < 0 {
		return d.appendItem(kindPath, graph.MessageFlow{Name: r.MsgName, Dest: []graph.Destination{r.Dest}})
	}
	return d.appendItem(fmt.Sprintf("%s.%d.dest", kindPath, fi), r.Dest)
}

func (d *Document) removeRoute(gp string, r graph.Route) error {
	connsPath := gp + ".connections"
	ci := indexOf(gjson.GetBytes(d.raw, connsPath), func(c gjson.Result) bool { return matchLoc(c, "extension", r.Src) })
	if ci < 0 {
		return fmt.Errorf("%w: %s", graph.ErrConnectionNotFound, r)
	}
	connPath := fmt.Sprintf("%s.%d", connsPath, ci)
	kindPath := fmt.Sprintf("%s.%s", connPath, r.Kind)

	fi := indexOf(gjson.GetBytes(d.raw, kindPath), func(f gjson.Result) bool { return f.Get("name").String() == r.MsgName })
	if fi < 0 {
		return fmt.Errorf("%w: %s", graph.ErrConnectionNotFound, r)
	}
	destPath := fmt.Sprintf("%s.%d.dest", kindPath, fi)
	di := indexOf(gjson.GetBytes(d.raw, destPath), func(dst gjson.Result) bool { return matchLoc(dst, "extension", r.Dest.Loc()) })
	if di < 0 {
		return fmt.Errorf("%w: %s", graph.ErrConnectionNotFound, r)
	}

	if err := d.delete(fmt.Sprintf("%s.%d", destPath, di)); err != nil {
		return err
	}
	if err := d.collapseConnection(connPath); err != nil {
		return err
	}
	return d.collapseConnections(connsPath)
}

// sweepConnections removes every connection sourced at loc and every
// destination reaching it. Indexes are visited in reverse so that earlier
// paths stay valid.
func (d *Document) sweepConnections(gp string, loc graph.Loc) error {
	connsPath := gp + ".connections"
	conns := gjson.GetBytes(d.raw, connsPath).Array()

	for ci := len(conns) - 1; ci >= 0; ci-- {
		connPath := fmt.Sprintf("%s.%d", connsPath, ci)
		if matchLoc(conns[ci], "extension", loc) {
			if err := d.delete(connPath); err != nil {
				return err
			}
			continue
		}

		touched := false
		for _, kind := range schema.MsgTypes {
			flows := conns[ci].Get(string(kind)).Array()
			for fi := len(flows) - 1; fi >= 0; fi-- {
				dests := flows[fi].Get("dest").Array()
				for di := len(dests) - 1; di >= 0; di-- {
					if !matchLoc(dests[di], "extension", loc) {
						continue
					}
					if err := d.delete(fmt.Sprintf("%s.%s.%d.dest.%d", connPath, kind, fi, di)); err != nil {
						return err
					}
					touched = true
				}
			}
		}
		if touched {
			if err := d.collapseConnection(connPath); err != nil {
				return err
			}
		}
	}
	return d.collapseConnections(connsPath)
}

// collapseConnection drops flows without destinations, message kinds
// without flows, and the connection itself once it has no kind left
func (d *Document) collapseConnection(connPath string) error {
	remaining := 0
	for _, kind := range schema.MsgTypes {
		kindPath := connPath + "." + string(kind)
		flows := gjson.GetBytes(d.raw, kindPath)
		if !flows.Exists() {
			continue
		}
		arr := flows.Array()
		kept := len(arr)
		for fi := len(arr) - 1; fi >= 0; fi-- {
			if len(arr[fi].Get("dest").Array()) > 0 {
				continue
			}
			if err := d.delete(fmt.Sprintf("%s.%d", kindPath, fi)); err != nil {
				return err
			}
			kept--
		}
		if kept == 0 {
			if err := d.delete(kindPath); err != nil {
				return err
			}
			continue
		}
		remaining++
	}
	if remaining == 0 {
		return d.delete(connPath)
	}
	return nil
}

// collapseConnections removes the connections key once it is empty
func (d *Document) collapseConnections(connsPath string) error {
	conns := gjson.GetBytes(d.raw, connsPath)
	if conns.Exists() && len(conns.Array()) == 0 {
		return d.delete(connsPath)
	}
	return nil
}

func (d *Document) appendItem(arrayPath string, v any) error {
	item, err := marshal(v)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(d.raw, arrayPath).Exists() {
		return d.setRaw(arrayPath, append(append([]byte("["), item...), ']'))
	}
	return d.setRaw(arrayPath+".-1", item)
}

// patchValue sets path to v, editing the existing value in place
func (d *Document) patchValue(path string, v any) error {
	next, err := marshal(v)
	if err != nil {
		return err
	}
	cur := gjson.GetBytes(d.raw, path)
	if !cur.Exists() {
		return d.setRaw(path, next)
	}
	patched, err := patchRaw([]byte(cur.Raw), next)
	if err != nil {
		return fmt.Errorf("failed to patch %s: %w", path, err)
	}
	if bytes.Equal(patched, []byte(cur.Raw)) {
		return nil
	}
	return d.setRaw(path, patched)
}

func (d *Document) set(path string, v any) error {
	out, err := sjson.SetBytes(d.raw, path, v)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	d.raw, d.dirty = out, true
	return nil
}

func (d *Document) setRaw(path string, raw []byte) error {
	out, err := sjson.SetRawBytes(d.raw, path, raw)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	d.raw, d.dirty = out, true
	return nil
}

func (d *Document) delete(path string) error {
	out, err := sjson.DeleteBytes(d.raw, path)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	d.raw, d.dirty = out, true
	return nil
}

func indexOf(arr gjson.Result, match func(gjson.Result) bool) int {
	if !arr.IsArray() {
		return -1
	}
	for i, item := range arr.Array() {
		if match(item) {
			return i
		}
	}
	return -1
}

// matchLoc compares the name field and optional app of a disk entry
func matchLoc(r gjson.Result, nameField string, loc graph.Loc) bool {
	if r.Get(nameField).String() != loc.Extension {
		return false
	}
	return matchOptional(r.Get("app"), loc.App)
}

// matchNode compares the full node tuple; absent fields match absent ones
func matchNode(r gjson.Result, n graph.Node) bool {
	nodeType := n.Type
	if nodeType == "" {
		nodeType = graph.NodeTypeExtension
	}
	if r.Get("type").String() != string(nodeType) ||
		r.Get("name").String() != n.Name ||
		r.Get("addon").String() != n.Addon {
		return false
	}
	if r.Get("extension_group").String() != n.ExtensionGroup {
		return false
	}
	return matchOptional(r.Get("app"), n.App)
}

func matchOptional(r gjson.Result, want *string) bool {
	if want == nil {
		return !r.Exists()
	}
	return r.Exists() && r.String() == *want
}
