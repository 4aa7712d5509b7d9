package designer

import (
	"context"
	"encoding/json"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
	"github.com/TEN-framework/ten-framework-sub001/pkg/property"
)

// edit applies a mutation to the named graph of a property file
type edit func(doc *property.Document, name string) error

// mutation applies a request to a graph copy and returns the matching edit
type mutation func(next *graph.Graph, checker graph.Checker) (edit, error)

// Apply runs one mutation request. The graph is mutated on a copy, validated,
// persisted when AutoPersist is set, and only then committed; any failure
// leaves both the graph and the property file untouched.
func (s *Store) Apply(ctx context.Context, req Request) (Response, error) {
	requestID, err := gonanoid.New()
	if err != nil {
		return Response{}, fmt.Errorf("failed to generate request id: %w", err)
	}
	logger := s.logger.With().
		Str("request_id", requestID).
		Str("graph_id", req.GraphID).
		Str("operation", string(req.Operation)).
		Logger()

	resp, err := s.apply(ctx, req)
	resp.RequestID = requestID
	if err != nil {
		s.record(req.Operation, "error")
		logger.Warn().Err(err).Msg("Graph mutation rejected")
		return resp, err
	}

	s.record(req.Operation, "ok")
	logger.Info().Str("state", string(resp.State)).Msg("Graph mutated")
	return resp, nil
}

func (s *Store) apply(ctx context.Context, req Request) (Response, error) {
	resp := Response{GraphID: req.GraphID}
	if err := ctx.Err(); err != nil {
		return resp, err
	}

	mutate, err := decode(req)
	if err != nil {
		return resp, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.graphs[req.GraphID]
	if !ok {
		resp.State = StateUnloaded
		return resp, fmt.Errorf("%w: %s", ErrUnknownGraph, req.GraphID)
	}
	resp.State = e.state

	next := e.graph.Clone()
	change, err := mutate(next, s.checker(e))
	if err != nil {
		return resp, err
	}

	state := StateDirty
	if s.opts.AutoPersist {
		write := func(doc *property.Document) error { return change(doc, e.name) }
		if e.state == StateDirty {
			// earlier unpersisted changes are on disk only as a whole graph
			write = func(doc *property.Document) error { return doc.SetGraph(e.name, next) }
		}
		if err := s.writeBack(e, write); err != nil {
			return resp, err
		}
		state = StatePersisted
	}

	e.graph = next
	e.state = state
	resp.State = state
	return resp, nil
}

// decode turns a request payload into a mutation
func decode(req Request) (mutation, error) {
	switch req.Operation {
	case OpAddNode:
		var p NodePayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		n := p.node()
		return func(next *graph.Graph, checker graph.Checker) (edit, error) {
			if err := next.AddExtensionNode(n, checker); err != nil {
				return nil, err
			}
			return func(doc *property.Document, name string) error {
				return doc.UpdateNodes(name, []graph.Node{n}, nil)
			}, nil
		}, nil

	case OpDeleteNode:
		var p NodePayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		n := p.node()
		return func(next *graph.Graph, _ graph.Checker) (edit, error) {
			if err := next.DeleteExtensionNode(n.Name, n.Addon, n.App, n.ExtensionGroup); err != nil {
				return nil, err
			}
			return func(doc *property.Document, name string) error {
				return doc.UpdateNodes(name, nil, []graph.Node{n})
			}, nil
		}, nil

	case OpReplaceNode:
		var p NodePayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		n := p.node()
		return func(next *graph.Graph, checker graph.Checker) (edit, error) {
			if err := next.ReplaceNode(n.Name, n.App, n.Addon, n.Property, checker); err != nil {
				return nil, err
			}
			return func(doc *property.Document, name string) error {
				return doc.ReplaceNode(name, n)
			}, nil
		}, nil

	case OpAddConnection, OpDeleteConnection:
		var p ConnectionPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		r := p.route()
		add := req.Operation == OpAddConnection
		return func(next *graph.Graph, checker graph.Checker) (edit, error) {
			var err error
			if add {
				err = next.AddConnection(r.Src, r.Kind, r.MsgName, r.Dest.Loc(), r.Dest.MsgConversion, checker)
			} else {
				err = next.DeleteConnection(r.Src, r.Kind, r.MsgName, r.Dest.Loc())
			}
			if err != nil {
				return nil, err
			}
			return func(doc *property.Document, name string) error {
				if add {
					return doc.UpdateConnections(name, []graph.Route{r}, nil)
				}
				return doc.UpdateConnections(name, nil, []graph.Route{r})
			}, nil
		}, nil

	case OpUpdateGraph:
		var p UpdateGraphPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		return func(next *graph.Graph, checker graph.Checker) (edit, error) {
			if err := next.UpdateGraph(p.Nodes, p.Connections, checker); err != nil {
				return nil, err
			}
			return func(doc *property.Document, name string) error {
				return doc.SetGraph(name, next)
			}, nil
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

func (s *Store) record(op Operation, status string) {
	s.mu.RLock()
	recorder := s.recorder
	s.mu.RUnlock()
	if recorder != nil {
		recorder.RecordGraphMutation(string(op), status)
	}
}
