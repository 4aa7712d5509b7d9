package property

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

const sampleProperty = `{
  "name": "demo_app",
  "version": "0.1.0",
  "description": "sample",
  "_ten": {
    "uri": "http://localhost:8001",
    "log_level": 2,
    "predefined_graphs": [
      {
        "name": "default",
        "auto_start": true,
        "nodes": [
          {"type": "extension", "name": "ext1", "addon": "addon1", "extension_group": "g1", "property": {"z": 1, "a": 2}},
          {"type": "extension", "name": "ext2", "addon": "addon2"},
          {"type": "extension", "name": "ext3", "addon": "addon3"}
        ],
        "connections": [
          {
            "extension": "ext1",
            "cmd": [
              {"name": "hello", "dest": [{"extension": "ext2"}, {"extension": "ext3"}]}
            ],
            "data": [
              {"name": "frame", "dest": [{"extension": "ext3"}]}
            ]
          },
          {
            "extension": "ext3",
            "audio_frame": [
              {"name": "pcm", "dest": [{"extension": "ext2"}]}
            ]
          }
        ]
      }
    ]
  },
  "license": "Apache-2.0",
  "author": "someone"
}
`

func writeProperty(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func keys(t *testing.T, raw []byte, path string) []string {
	t.Helper()
	res := gjson.ParseBytes(raw)
	if path != "" {
		res = gjson.GetBytes(raw, path)
	}
	var out []string
	res.ForEach(func(k, _ gjson.Result) bool {
		out = append(out, k.String())
		return true
	})
	return out
}

func TestLoadFile(t *testing.T) {
	t.Run("reads graphs and uri", func(t *testing.T) {
		doc, err := LoadFile(writeProperty(t, sampleProperty))
		require.NoError(t, err)

		require.NotNil(t, doc.AppURI())
		assert.Equal(t, "http://localhost:8001", *doc.AppURI())

		graphs, err := doc.PredefinedGraphs()
		require.NoError(t, err)
		require.Len(t, graphs, 1)
		assert.Equal(t, "default", graphs[0].Name)
		assert.Len(t, graphs[0].Nodes, 3)
		assert.Len(t, graphs[0].Connections, 2)
		assert.NoError(t, graphs[0].Validate())
	})

	t.Run("rejects non object", func(t *testing.T) {
		_, err := LoadFile(writeProperty(t, `[1, 2]`))
		assert.ErrorIs(t, err, ErrInvalidProperty)
	})

	t.Run("rejects malformed", func(t *testing.T) {
		_, err := LoadFile(writeProperty(t, `{"a": }`))
		assert.ErrorIs(t, err, ErrInvalidProperty)
	})

	t.Run("without graphs", func(t *testing.T) {
		doc, err := Parse([]byte(`{"_ten": {}}`))
		require.NoError(t, err)
		graphs, err := doc.PredefinedGraphs()
		require.NoError(t, err)
		assert.Empty(t, graphs)
		assert.Nil(t, doc.AppURI())
	})

	t.Run("unknown graph", func(t *testing.T) {
		doc, err := Parse([]byte(sampleProperty))
		require.NoError(t, err)
		_, err = doc.Graph("nope")
		assert.ErrorIs(t, err, ErrGraphNotFound)
	})
}

func TestPropertyOrderPreserved(t *testing.T) {
	path := writeProperty(t, sampleProperty)
	doc, err := LoadFile(path)
	require.NoError(t, err)

	add := []graph.Node{{Name: "ext4", Addon: "addon4", Property: json.RawMessage(`{"b": true}`)}}
	remove := []graph.Node{{Type: graph.NodeTypeExtension, Name: "ext2", Addon: "addon2"}}
	require.NoError(t, doc.UpdateNodes("default", add, remove))
	require.NoError(t, doc.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "version", "description", "_ten", "license", "author"}, keys(t, data, ""))
	assert.Equal(t, []string{"uri", "log_level", "predefined_graphs"}, keys(t, data, "_ten"))
	assert.Equal(t, []string{"z", "a"}, keys(t, data, graphsPath+".0.nodes.0.property"))

	nodes := gjson.GetBytes(data, graphsPath+".0.nodes.#.name")
	assert.Equal(t, `["ext1","ext3","ext4"]`, nodes.Raw)
	assert.Equal(t, []string{"type", "name", "addon", "property"}, keys(t, data, graphsPath+".0.nodes.2"))
}

func TestEmptyEditWritesNothing(t *testing.T) {
	path := writeProperty(t, sampleProperty)
	doc, err := LoadFile(path)
	require.NoError(t, err)

	require.NoError(t, doc.UpdateNodes("default", nil, nil))
	require.NoError(t, doc.UpdateConnections("default", nil, nil))
	assert.False(t, doc.Dirty())
	require.NoError(t, doc.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleProperty, string(data))
}

func TestRemoveNodeSweepsConnections(t *testing.T) {
	doc, err := Parse([]byte(sampleProperty))
	require.NoError(t, err)

	require.NoError(t, doc.UpdateNodes("default", nil, []graph.Node{{Name: "ext3", Addon: "addon3"}}))

	g, err := doc.Graph("default")
	require.NoError(t, err)
	require.Len(t, g.Connections, 1)
	c := g.Connections[0]
	assert.Equal(t, "ext1", c.Extension)
	require.Len(t, c.Cmd, 1)
	require.Len(t, c.Cmd[0].Dest, 1)
	assert.Equal(t, "ext2", c.Cmd[0].Dest[0].Extension)
	assert.Nil(t, c.Data)
	assert.False(t, gjson.GetBytes(doc.Bytes(), graphsPath+".0.connections.0.data").Exists())
	assert.NoError(t, g.Validate())

	require.NoError(t, doc.UpdateNodes("default", nil, []graph.Node{{Name: "ext2", Addon: "addon2"}}))
	assert.False(t, gjson.GetBytes(doc.Bytes(), graphsPath+".0.connections").Exists())
}

func TestRemoveNodeFullTuple(t *testing.T) {
	doc, err := Parse([]byte(sampleProperty))
	require.NoError(t, err)

	err = doc.UpdateNodes("default", nil, []graph.Node{{Name: "ext1", Addon: "addon1"}})
	assert.ErrorIs(t, err, graph.ErrUnknownExtension)

	err = doc.UpdateNodes("default", nil, []graph.Node{{Name: "ext1", Addon: "addon1", App: graph.StrPtr("http://x")}})
	assert.ErrorIs(t, err, graph.ErrUnknownExtension)

	require.NoError(t, doc.UpdateNodes("default", nil, []graph.Node{{Name: "ext1", Addon: "addon1", ExtensionGroup: "g1"}}))
}

func TestUpdateConnections(t *testing.T) {
	route := func(src, name, dest string, kind schema.MsgType) graph.Route {
		return graph.Route{Src: graph.Loc{Extension: src}, Kind: kind, MsgName: name, Dest: graph.Destination{Extension: dest}}
	}

	t.Run("add to existing flow, new flow and new connection", func(t *testing.T) {
		doc, err := Parse([]byte(sampleProperty))
		require.NoError(t, err)

		require.NoError(t, doc.UpdateConnections("default", []graph.Route{
			route("ext1", "hello", "ext1", schema.MsgCmd),
			route("ext1", "bye", "ext2", schema.MsgCmd),
			route("ext1", "vid", "ext2", schema.MsgVideoFrame),
			route("ext2", "ping", "ext1", schema.MsgData),
		}, nil))

		g, err := doc.Graph("default")
		require.NoError(t, err)
		require.Len(t, g.Connections, 3)
		assert.Len(t, g.Connections[0].Cmd, 2)
		assert.Len(t, g.Connections[0].Cmd[0].Dest, 3)
		assert.Len(t, g.Connections[0].VideoFrame, 1)
		assert.Equal(t, "ext2", g.Connections[2].Extension)
		assert.Equal(t, []string{"extension", "cmd", "data", "video_frame"}, keys(t, doc.Bytes(), graphsPath+".0.connections.0"))
	})

	t.Run("remove collapses to absent", func(t *testing.T) {
		doc, err := Parse([]byte(sampleProperty))
		require.NoError(t, err)

		require.NoError(t, doc.UpdateConnections("default", nil, []graph.Route{
			route("ext1", "hello", "ext2", schema.MsgCmd),
			route("ext1", "hello", "ext3", schema.MsgCmd),
			route("ext1", "frame", "ext3", schema.MsgData),
			route("ext3", "pcm", "ext2", schema.MsgAudioFrame),
		}))

		assert.False(t, gjson.GetBytes(doc.Bytes(), graphsPath+".0.connections").Exists())
		assert.Equal(t, []string{"name", "auto_start", "nodes"}, keys(t, doc.Bytes(), graphsPath+".0"))
	})

	t.Run("remove missing route", func(t *testing.T) {
		doc, err := Parse([]byte(sampleProperty))
		require.NoError(t, err)
		err = doc.UpdateConnections("default", nil, []graph.Route{route("ext2", "x", "ext1", schema.MsgCmd)})
		assert.ErrorIs(t, err, graph.ErrConnectionNotFound)
	})
}

func TestReplaceNodeAndSetGraph(t *testing.T) {
	doc, err := Parse([]byte(sampleProperty))
	require.NoError(t, err)

	require.NoError(t, doc.ReplaceNode("default", graph.Node{Name: "ext1", Addon: "addon9"}))
	assert.Equal(t, "addon9", gjson.GetBytes(doc.Bytes(), graphsPath+".0.nodes.0.addon").String())
	assert.False(t, gjson.GetBytes(doc.Bytes(), graphsPath+".0.nodes.0.property").Exists())
	assert.Equal(t, []string{"type", "name", "addon", "extension_group"}, keys(t, doc.Bytes(), graphsPath+".0.nodes.0"))

	g := &graph.Graph{Nodes: []graph.Node{{Type: graph.NodeTypeExtension, Name: "only", Addon: "x"}}}
	require.NoError(t, doc.SetGraph("default", g))

	pg, err := doc.Graph("default")
	require.NoError(t, err)
	require.NotNil(t, pg.AutoStart)
	assert.Len(t, pg.Nodes, 1)
	assert.Nil(t, pg.Connections)
	assert.Equal(t, []string{"name", "auto_start", "nodes"}, keys(t, doc.Bytes(), graphsPath+".0"))
}

const reorderedProperty = `{
  "_ten": {
    "predefined_graphs": [
      {
        "name": "default",
        "nodes": [
          {"name": "ext1", "addon": "addon1", "type": "extension", "property": {"z": 1, "a": {"y": true, "b": "x"}}},
          {"name": "ext2", "addon": "addon2", "type": "extension"}
        ],
        "connections": [
          {"cmd": [{"dest": [{"extension": "ext2"}], "name": "hello"}], "extension": "ext1"}
        ]
      }
    ]
  }
}`

func TestSetGraphKeepsKeyOrder(t *testing.T) {
	nodesPath := graphsPath + ".0.nodes"
	connPath := graphsPath + ".0.connections.0"

	t.Run("identical graph is not an edit", func(t *testing.T) {
		doc, err := Parse([]byte(reorderedProperty))
		require.NoError(t, err)
		pg, err := doc.Graph("default")
		require.NoError(t, err)

		require.NoError(t, doc.SetGraph("default", &pg.Graph))
		assert.False(t, doc.Dirty())
		assert.Equal(t, reorderedProperty, string(doc.Bytes()))
	})

	t.Run("changed graph patches entries in place", func(t *testing.T) {
		doc, err := Parse([]byte(reorderedProperty))
		require.NoError(t, err)
		pg, err := doc.Graph("default")
		require.NoError(t, err)

		g := pg.Graph.Clone()
		g.Nodes[0].Addon = "addon9"
		g.Nodes = append(g.Nodes[:1], graph.Node{Type: graph.NodeTypeExtension, Name: "ext3", Addon: "addon3"})
		g.Connections[0].Cmd[0].Dest = []graph.Destination{{Extension: "ext3"}}
		require.NoError(t, doc.SetGraph("default", g))

		raw := doc.Bytes()
		assert.Equal(t, []string{"name", "addon", "type", "property"}, keys(t, raw, nodesPath+".0"))
		assert.Equal(t, "addon9", gjson.GetBytes(raw, nodesPath+".0.addon").String())
		assert.Equal(t, []string{"z", "a"}, keys(t, raw, nodesPath+".0.property"))
		assert.Equal(t, []string{"y", "b"}, keys(t, raw, nodesPath+".0.property.a"))
		assert.Equal(t, "ext3", gjson.GetBytes(raw, nodesPath+".1.name").String())
		assert.Equal(t, int64(2), gjson.GetBytes(raw, nodesPath+".#").Int())

		assert.Equal(t, []string{"cmd", "extension"}, keys(t, raw, connPath))
		assert.Equal(t, []string{"dest", "name"}, keys(t, raw, connPath+".cmd.0"))
		assert.Equal(t, "ext3", gjson.GetBytes(raw, connPath+".cmd.0.dest.0.extension").String())

		path := writeProperty(t, reorderedProperty)
		require.NoError(t, doc.WriteFile(path))
		loaded, err := LoadFile(path)
		require.NoError(t, err)
		written, err := loaded.Graph("default")
		require.NoError(t, err)
		require.Len(t, written.Nodes, 2)
		assert.Equal(t, "addon9", written.Nodes[0].Addon)
		assert.JSONEq(t, `{"z": 1, "a": {"y": true, "b": "x"}}`, string(written.Nodes[0].Property))
		assert.Equal(t, g.Connections, written.Connections)
	})
}

func TestWriteFileFailure(t *testing.T) {
	doc, err := Parse([]byte(sampleProperty))
	require.NoError(t, err)
	require.NoError(t, doc.ReplaceNode("default", graph.Node{Name: "ext1", Addon: "addon9"}))

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err = doc.WriteFile(filepath.Join(blocker, FileName))
	assert.ErrorIs(t, err, ErrPropertyWriteFailed)
	assert.True(t, doc.Dirty())
}
