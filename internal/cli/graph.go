package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TEN-framework/ten-framework-sub001/pkg/designer"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect and edit the predefined graphs of an app",
}

var graphListCmd = &cobra.Command{
	Use:   "list <app-dir>",
	Short: "List the predefined graphs of an app",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphList,
}

var graphApplyCmd = &cobra.Command{
	Use:   "apply <app-dir> <request.json>",
	Short: "Apply one mutation request to a predefined graph",
	Long: `Apply reads a mutation request and applies it to a predefined graph of the
app at <app-dir>, then writes the graph back to property.json.

The request names the graph and carries the operation payload:

  {"graph": "default", "operation": "add_connection",
   "payload": {"src_extension": "ext1", "msg_type": "cmd", "msg_name": "hello",
               "dest_extension": "ext2"}}

Operations: add_node, delete_node, replace_node, add_connection,
delete_connection, update_graph.`,
	Args: cobra.ExactArgs(2),
	RunE: runGraphApply,
}

var listRoutes bool

func init() {
	graphListCmd.Flags().BoolVar(&listRoutes, "routes", false, "print every message route of each graph")
	graphCmd.AddCommand(graphListCmd)
	graphCmd.AddCommand(graphApplyCmd)
	rootCmd.AddCommand(graphCmd)
}

// graphRequest is a mutation request addressed by graph name
type graphRequest struct {
	Graph string `json:"graph"`
	designer.Request
}

func runGraphList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	infos, err := e.graphStore(e.cache()).Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	name := color.New(color.FgCyan)
	for _, info := range infos {
		autoStart := info.AutoStart != nil && *info.AutoStart
		fmt.Fprintf(out, "%s  nodes=%d connections=%d auto_start=%t\n",
			name.Sprint(info.Name), len(info.Graph.Nodes), len(info.Graph.Connections), autoStart)
		if listRoutes {
			for _, r := range info.Graph.Routes() {
				fmt.Fprintf(out, "  %s\n", r)
			}
		}
	}
	return nil
}

func runGraphApply(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	var req graphRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %w", designer.ErrInvalidPayload, err)
	}
	if req.Graph == "" && req.GraphID == "" {
		return fmt.Errorf("%w: request names no graph", designer.ErrInvalidPayload)
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	store := e.graphStore(e.cache())
	infos, err := store.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if req.Graph != "" {
		req.GraphID = ""
		for _, info := range infos {
			if info.Name == req.Graph {
				req.GraphID = info.ID
				break
			}
		}
		if req.GraphID == "" {
			return fmt.Errorf("%w: %s", designer.ErrUnknownGraph, req.Graph)
		}
	}

	resp, err := store.Apply(ctx, req.Request)
	if err != nil {
		return err
	}
	// the process ends here, so a dirty graph is written out now
	if resp.State == designer.StateDirty {
		if resp.State, err = store.Persist(ctx, resp.GraphID); err != nil {
			return err
		}
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "%s %s: %s (request %s)\n",
		req.Operation, req.Graph, resp.State, resp.RequestID)
	return nil
}
