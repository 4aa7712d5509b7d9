package graph

import (
	"encoding/json"
	"fmt"

	"github.com/TEN-framework/ten-framework-sub001/pkg/msgconversion"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

// NodeType is the kind of a graph node. Only extension nodes exist.
type NodeType string

const NodeTypeExtension NodeType = "extension"

// Localhost is the app URI every mutation rejects
const Localhost = "localhost"

// Node is one extension instance in a graph
type Node struct {
	Type           NodeType        `json:"type"`
	Name           string          `json:"name"`
	Addon          string          `json:"addon"`
	ExtensionGroup string          `json:"extension_group,omitempty"`
	App            *string         `json:"app,omitempty"`
	Property       json.RawMessage `json:"property,omitempty"`
}

// Loc returns the identity of n inside its graph
func (n Node) Loc() Loc {
	return Loc{App: n.App, Extension: n.Name}
}

// Loc addresses an extension: an optional app URI plus the node name
type Loc struct {
	App       *string `json:"app,omitempty"`
	Extension string  `json:"extension"`
}

func (l Loc) String() string {
	if l.App == nil {
		return l.Extension
	}
	return fmt.Sprintf("%s@%s", l.Extension, *l.App)
}

// Equal compares app and extension
func (l Loc) Equal(o Loc) bool {
	return l.Extension == o.Extension && SameApp(l.App, o.App)
}

// Destination is one receiver of a message flow
type Destination struct {
	App           *string                               `json:"app,omitempty"`
	Extension     string                                `json:"extension"`
	MsgConversion *msgconversion.MsgAndResultConversion `json:"msg_conversion,omitempty"`
}

// Loc returns the receiving extension
func (d Destination) Loc() Loc {
	return Loc{App: d.App, Extension: d.Extension}
}

// MessageFlow routes one named message to its destinations
type MessageFlow struct {
	Name string        `json:"name"`
	Dest []Destination `json:"dest"`
}

// Connection holds the outbound flows of one source extension
type Connection struct {
	App        *string       `json:"app,omitempty"`
	Extension  string        `json:"extension"`
	Cmd        []MessageFlow `json:"cmd,omitempty"`
	Data       []MessageFlow `json:"data,omitempty"`
	AudioFrame []MessageFlow `json:"audio_frame,omitempty"`
	VideoFrame []MessageFlow `json:"video_frame,omitempty"`
}

// Loc returns the source extension
func (c *Connection) Loc() Loc {
	return Loc{App: c.App, Extension: c.Extension}
}

// Flows returns the flow list for one message kind
func (c *Connection) Flows(kind schema.MsgType) *[]MessageFlow {
	switch kind {
	case schema.MsgCmd:
		return &c.Cmd
	case schema.MsgData:
		return &c.Data
	case schema.MsgAudioFrame:
		return &c.AudioFrame
	case schema.MsgVideoFrame:
		return &c.VideoFrame
	}
	return nil
}

// IsEmpty reports whether c carries no flow of any kind
func (c *Connection) IsEmpty() bool {
	return len(c.Cmd) == 0 && len(c.Data) == 0 && len(c.AudioFrame) == 0 && len(c.VideoFrame) == 0
}

// Graph is a set of nodes and the connections between them
type Graph struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections,omitempty"`
}

// PredefinedGraph is a graph persisted in an app property file
type PredefinedGraph struct {
	Name      string `json:"name"`
	AutoStart *bool  `json:"auto_start,omitempty"`
	Singleton *bool  `json:"singleton,omitempty"`
	Graph
}

// SameApp compares two optional app URIs
func SameApp(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// AppURI returns the URI or "" when unspecified
func AppURI(app *string) string {
	if app == nil {
		return ""
	}
	return *app
}

// StrPtr returns a pointer to s
func StrPtr(s string) *string {
	return &s
}

// FindNode returns the index of the node at loc, or -1
func (g *Graph) FindNode(loc Loc) int {
	for i := range g.Nodes {
		if g.Nodes[i].Loc().Equal(loc) {
			return i
		}
	}
	return -1
}

// FindConnection returns the index of the connection sourced at loc, or -1
func (g *Graph) FindConnection(loc Loc) int {
	for i := range g.Connections {
		if g.Connections[i].Loc().Equal(loc) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of g
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{}
	if g.Nodes != nil {
		out.Nodes = make([]Node, len(g.Nodes))
		for i, n := range g.Nodes {
			n.App = cloneStr(n.App)
			n.Property = cloneRaw(n.Property)
			out.Nodes[i] = n
		}
	}
	if g.Connections != nil {
		out.Connections = make([]Connection, len(g.Connections))
		for i, c := range g.Connections {
			out.Connections[i] = Connection{
				App:        cloneStr(c.App),
				Extension:  c.Extension,
				Cmd:        cloneFlows(c.Cmd),
				Data:       cloneFlows(c.Data),
				AudioFrame: cloneFlows(c.AudioFrame),
				VideoFrame: cloneFlows(c.VideoFrame),
			}
		}
	}
	return out
}

func cloneFlows(flows []MessageFlow) []MessageFlow {
	if flows == nil {
		return nil
	}
	out := make([]MessageFlow, len(flows))
	for i, f := range flows {
		dest := make([]Destination, len(f.Dest))
		for j, d := range f.Dest {
			dest[j] = Destination{
				App:           cloneStr(d.App),
				Extension:     d.Extension,
				MsgConversion: cloneConversion(d.MsgConversion),
			}
		}
		out[i] = MessageFlow{Name: f.Name, Dest: dest}
	}
	return out
}

func cloneConversion(c *msgconversion.MsgAndResultConversion) *msgconversion.MsgAndResultConversion {
	if c == nil {
		return nil
	}
	out := &msgconversion.MsgAndResultConversion{MsgConversion: cloneMsgConversion(c.MsgConversion)}
	if c.Result != nil {
		r := cloneMsgConversion(*c.Result)
		out.Result = &r
	}
	return out
}

func cloneMsgConversion(c msgconversion.MsgConversion) msgconversion.MsgConversion {
	rules := make([]msgconversion.Rule, len(c.Rules))
	for i, r := range c.Rules {
		r.Value = cloneRaw(r.Value)
		rules[i] = r
	}
	c.Rules = rules
	return c
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// Route identifies one source→destination edge of a named message
type Route struct {
	Src     Loc            `json:"src"`
	Kind    schema.MsgType `json:"msg_type"`
	MsgName string         `json:"msg_name"`
	Dest    Destination    `json:"dest"`
}

func (r Route) String() string {
	return fmt.Sprintf("%s %q %s -> %s", r.Kind, r.MsgName, r.Src, r.Dest.Loc())
}

// Routes lists every edge of g in connection order
func (g *Graph) Routes() []Route {
	var out []Route
	for ci := range g.Connections {
		c := &g.Connections[ci]
		for _, kind := range schema.MsgTypes {
			for _, f := range *c.Flows(kind) {
				for _, d := range f.Dest {
					out = append(out, Route{Src: c.Loc(), Kind: kind, MsgName: f.Name, Dest: d})
				}
			}
		}
	}
	return out
}
