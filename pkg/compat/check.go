package compat

import (
	"fmt"
	"strings"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

// Issue is one failed edge of a graph
type Issue struct {
	Connection  int            `json:"connection_index"`
	Kind        schema.MsgType `json:"msg_type"`
	Flow        int            `json:"flow_index"`
	Destination int            `json:"dest_index"`
	Err         error          `json:"-"`
}

func (i Issue) String() string {
	return fmt.Sprintf("connections[%d].%s[%d].dest[%d]: %v", i.Connection, i.Kind, i.Flow, i.Destination, i.Err)
}

// CheckError aggregates every failed edge of a graph
type CheckError struct {
	Issues []Issue
}

func (e *CheckError) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		lines = append(lines, i.String())
	}
	return fmt.Sprintf("%d incompatible connection(s):\n  %s", len(e.Issues), strings.Join(lines, "\n  "))
}

// Unwrap exposes the issue errors to errors.Is and errors.As
func (e *CheckError) Unwrap() []error {
	errs := make([]error, 0, len(e.Issues))
	for _, i := range e.Issues {
		errs = append(errs, i.Err)
	}
	return errs
}

// CheckConnections checks every edge of g without stopping at the first
// failure. It returns nil or a *CheckError.
func (c *Checker) CheckConnections(g *graph.Graph) error {
	var issues []Issue
	for ci := range g.Connections {
		conn := &g.Connections[ci]
		for _, kind := range schema.MsgTypes {
			for fi, f := range *conn.Flows(kind) {
				for di, d := range f.Dest {
					if err := c.CheckConnection(g, conn.Loc(), kind, f.Name, d); err != nil {
						issues = append(issues, Issue{
							Connection:  ci,
							Kind:        kind,
							Flow:        fi,
							Destination: di,
							Err:         err,
						})
					}
				}
			}
		}
	}

	if len(issues) > 0 {
		c.logger.Debug().Int("issues", len(issues)).Msg("Graph has incompatible connections")
		return &CheckError{Issues: issues}
	}
	return nil
}

// CheckNodes validates the property of every node against its addon
func (c *Checker) CheckNodes(g *graph.Graph) error {
	for _, n := range g.Nodes {
		if err := c.ValidateProperty(n.App, n.Addon, n.Property); err != nil {
			return fmt.Errorf("node %s: %w", n.Loc(), err)
		}
	}
	return nil
}
