package designer

import (
	"encoding/json"
	"errors"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
	"github.com/TEN-framework/ten-framework-sub001/pkg/msgconversion"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

var (
	// ErrUnknownGraph is returned for a graph id the store does not hold
	ErrUnknownGraph = errors.New("unknown graph")

	// ErrUnknownOperation is returned for an unsupported request operation
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrInvalidPayload is returned when a request payload cannot be decoded
	ErrInvalidPayload = errors.New("invalid payload")
)

// State is the lifecycle state of a graph held by the store
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoaded    State = "loaded"
	StateDirty     State = "dirty"
	StatePersisted State = "persisted"
)

// Operation names a graph mutation
type Operation string

const (
	OpAddNode          Operation = "add_node"
	OpDeleteNode       Operation = "delete_node"
	OpReplaceNode      Operation = "replace_node"
	OpAddConnection    Operation = "add_connection"
	OpDeleteConnection Operation = "delete_connection"
	OpUpdateGraph      Operation = "update_graph"
)

// Request is one graph mutation
type Request struct {
	GraphID   string          `json:"graph_id"`
	Operation Operation       `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
}

// Response reports the outcome of a successful request
type Response struct {
	RequestID string `json:"request_id"`
	GraphID   string `json:"graph_id"`
	State     State  `json:"state"`
}

// NodePayload is the payload of add_node, delete_node and replace_node
type NodePayload struct {
	Name           string          `json:"name"`
	Addon          string          `json:"addon"`
	ExtensionGroup string          `json:"extension_group,omitempty"`
	App            *string         `json:"app,omitempty"`
	Property       json.RawMessage `json:"property,omitempty"`
}

func (p NodePayload) node() graph.Node {
	return graph.Node{
		Type:           graph.NodeTypeExtension,
		Name:           p.Name,
		Addon:          p.Addon,
		ExtensionGroup: p.ExtensionGroup,
		App:            p.App,
		Property:       p.Property,
	}
}

// ConnectionPayload is the payload of add_connection and delete_connection
type ConnectionPayload struct {
	SrcApp        *string                               `json:"src_app,omitempty"`
	SrcExtension  string                                `json:"src_extension"`
	MsgType       schema.MsgType                        `json:"msg_type"`
	MsgName       string                                `json:"msg_name"`
	DestApp       *string                               `json:"dest_app,omitempty"`
	DestExtension string                                `json:"dest_extension"`
	MsgConversion *msgconversion.MsgAndResultConversion `json:"msg_conversion,omitempty"`
}

func (p ConnectionPayload) route() graph.Route {
	return graph.Route{
		Src:     graph.Loc{App: p.SrcApp, Extension: p.SrcExtension},
		Kind:    p.MsgType,
		MsgName: p.MsgName,
		Dest: graph.Destination{
			App:           p.DestApp,
			Extension:     p.DestExtension,
			MsgConversion: p.MsgConversion,
		},
	}
}

// UpdateGraphPayload is the payload of update_graph
type UpdateGraphPayload struct {
	Nodes       []graph.Node       `json:"nodes"`
	Connections []graph.Connection `json:"connections,omitempty"`
}

// GraphInfo is a read-only snapshot of a stored graph
type GraphInfo struct {
	ID        string       `json:"graph_id"`
	AppDir    string       `json:"app_base_dir"`
	Name      string       `json:"name"`
	AutoStart *bool        `json:"auto_start,omitempty"`
	Singleton *bool        `json:"singleton,omitempty"`
	State     State        `json:"state"`
	Graph     *graph.Graph `json:"graph"`
}
