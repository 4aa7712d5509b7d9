package designer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/property"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

const appProperty = `{
  "name": "demo",
  "_ten": {
    "uri": "http://a",
    "predefined_graphs": [
      {
        "name": "default",
        "auto_start": true,
        "nodes": [
          {"type": "extension", "name": "ext1", "addon": "addon1"},
          {"type": "extension", "name": "ext2", "addon": "addon2"},
          {"type": "extension", "name": "ext3", "addon": "addon3"}
        ]
      }
    ]
  },
  "author": "someone"
}`

var addonAPIs = map[string]string{
	"addon1": `{"cmd_out": [{"name": "foo", "property": {"x": {"type": "int32"}}}]}`,
	"addon2": `{"cmd_in": [{"name": "foo", "property": {"x": {"type": "int32"}}}]}`,
	"addon3": `{"property": {"level": {"type": "int8"}}, "cmd_in": [{"name": "foo", "property": {"x": {"type": "int8"}}}]}`,
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func createApp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "manifest.json"), `{"type": "app", "name": "demo", "version": "1.0.0"}`)
	writeFile(t, filepath.Join(dir, property.FileName), appProperty)
	for addon, api := range addonAPIs {
		writeFile(t, filepath.Join(dir, pkginfo.PackagesDir, "extension", addon, "manifest.json"),
			`{"type": "extension", "name": "`+addon+`", "version": "0.1.0", "api": `+api+`}`)
	}
	return dir
}

type recorder struct {
	calls []string
}

func (r *recorder) RecordGraphMutation(operation, status string) {
	r.calls = append(r.calls, operation+":"+status)
}

func setup(t *testing.T, opts Options) (*Store, string, string) {
	t.Helper()
	dir := createApp(t)
	store := NewStore(pkginfo.NewCache(testLogger()), opts, testLogger())
	infos, err := store.Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	return store, dir, infos[0].ID
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func connect(src, dest string) ConnectionPayload {
	return ConnectionPayload{SrcExtension: src, MsgType: schema.MsgCmd, MsgName: "foo", DestExtension: dest}
}

func readProperty(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, property.FileName))
	require.NoError(t, err)
	return string(data)
}

func TestStore_Load(t *testing.T) {
	store, dir, id := setup(t, Options{})

	info, err := store.Graph(id)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, StateLoaded, info.State)
	assert.Equal(t, "default", info.Name)
	require.NotNil(t, info.AutoStart)
	assert.True(t, *info.AutoStart)
	assert.Len(t, info.Graph.Nodes, 3)

	infos, err := store.Load(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEqual(t, id, infos[0].ID)
	assert.Len(t, store.Graphs(), 1)

	_, err = store.Graph(id)
	assert.ErrorIs(t, err, ErrUnknownGraph)

	store.Unload(dir)
	assert.Empty(t, store.Graphs())
}

func TestStore_ApplyPersists(t *testing.T) {
	store, dir, id := setup(t, Options{AutoPersist: true, LenientResult: true})
	rec := &recorder{}
	store.SetRecorder(rec)
	ctx := context.Background()

	resp, err := store.Apply(ctx, Request{GraphID: id, Operation: OpAddConnection, Payload: payload(t, connect("ext1", "ext2"))})
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, resp.State)
	assert.NotEmpty(t, resp.RequestID)

	content := readProperty(t, dir)
	assert.Contains(t, content, `"connections"`)
	assert.Less(t, strings.Index(content, `"name": "demo"`), strings.Index(content, `"_ten"`))
	assert.Less(t, strings.Index(content, `"_ten"`), strings.Index(content, `"author"`))
	require.NoError(t, store.Check(ctx, id))

	t.Run("rejected mutation leaves file and graph", func(t *testing.T) {
		before := readProperty(t, dir)
		_, err := store.Apply(ctx, Request{GraphID: id, Operation: OpAddConnection, Payload: payload(t, connect("ext1", "ext3"))})
		assert.ErrorIs(t, err, schema.ErrSchemaIncompatible)
		assert.Equal(t, before, readProperty(t, dir))

		info, err := store.Graph(id)
		require.NoError(t, err)
		require.Len(t, info.Graph.Connections, 1)
		assert.Len(t, info.Graph.Connections[0].Cmd[0].Dest, 1)
	})

	t.Run("delete node sweeps connections", func(t *testing.T) {
		_, err := store.Apply(ctx, Request{GraphID: id, Operation: OpDeleteNode, Payload: payload(t, NodePayload{Name: "ext2", Addon: "addon2"})})
		require.NoError(t, err)

		info, err := store.Graph(id)
		require.NoError(t, err)
		assert.Nil(t, info.Graph.Connections)
		assert.Len(t, info.Graph.Nodes, 2)

		content := readProperty(t, dir)
		assert.NotContains(t, content, `"connections"`)
		assert.NotContains(t, content, `"ext2"`)
	})

	t.Run("replace node validates property", func(t *testing.T) {
		bad := NodePayload{Name: "ext3", Addon: "addon3", Property: json.RawMessage(`{"level": "high"}`)}
		_, err := store.Apply(ctx, Request{GraphID: id, Operation: OpReplaceNode, Payload: payload(t, bad)})
		assert.ErrorIs(t, err, schema.ErrInvalidValue)

		good := NodePayload{Name: "ext3", Addon: "addon3", Property: json.RawMessage(`{"level": 3}`)}
		_, err = store.Apply(ctx, Request{GraphID: id, Operation: OpReplaceNode, Payload: payload(t, good)})
		require.NoError(t, err)
		assert.Contains(t, readProperty(t, dir), `"level": 3`)
	})

	assert.Equal(t, []string{
		"add_connection:ok",
		"add_connection:error",
		"delete_node:ok",
		"replace_node:error",
		"replace_node:ok",
	}, rec.calls)
}

type countingRecorder struct {
	n atomic.Int64
}

func (r *countingRecorder) RecordGraphMutation(operation, status string) {
	r.n.Add(1)
}

func TestStore_SetRecorderWhileApplying(t *testing.T) {
	store, _, id := setup(t, Options{})
	rec := &countingRecorder{}
	store.SetRecorder(rec)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			store.SetRecorder(rec)
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := store.Apply(context.Background(), Request{GraphID: id, Operation: OpAddNode,
			Payload: payload(t, NodePayload{Name: fmt.Sprintf("extra%d", i), Addon: "addon1"})})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int64(50), rec.n.Load())
}

func TestStore_DirtyUntilPersist(t *testing.T) {
	store, dir, id := setup(t, Options{})
	ctx := context.Background()
	before := readProperty(t, dir)

	resp, err := store.Apply(ctx, Request{GraphID: id, Operation: OpAddNode, Payload: payload(t, NodePayload{Name: "ext4", Addon: "addon1"})})
	require.NoError(t, err)
	assert.Equal(t, StateDirty, resp.State)
	assert.Equal(t, before, readProperty(t, dir))

	state, err := store.Persist(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, state)
	assert.Contains(t, readProperty(t, dir), `"ext4"`)

	doc, err := property.LoadFile(filepath.Join(dir, property.FileName))
	require.NoError(t, err)
	pg, err := doc.Graph("default")
	require.NoError(t, err)
	assert.Len(t, pg.Nodes, 4)
}

func TestStore_UpdateGraphKeepsKeyOrder(t *testing.T) {
	dir := createApp(t)
	writeFile(t, filepath.Join(dir, property.FileName), strings.Replace(appProperty,
		`{"type": "extension", "name": "ext1", "addon": "addon1"}`,
		`{"name": "ext1", "addon": "addon1", "type": "extension"}`, 1))

	store := NewStore(pkginfo.NewCache(testLogger()), Options{AutoPersist: true}, testLogger())
	infos, err := store.Load(context.Background(), dir)
	require.NoError(t, err)

	update := UpdateGraphPayload{
		Nodes: []graph.Node{
			{Type: graph.NodeTypeExtension, Name: "ext1", Addon: "addon1"},
			{Type: graph.NodeTypeExtension, Name: "ext2", Addon: "addon2"},
			{Type: graph.NodeTypeExtension, Name: "ext4", Addon: "addon2"},
		},
		Connections: []graph.Connection{{Extension: "ext1", Cmd: []graph.MessageFlow{
			{Name: "foo", Dest: []graph.Destination{{Extension: "ext2"}, {Extension: "ext4"}}},
		}}},
	}
	resp, err := store.Apply(context.Background(), Request{GraphID: infos[0].ID, Operation: OpUpdateGraph, Payload: payload(t, update)})
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, resp.State)

	content := readProperty(t, dir)
	nodes := gjson.Get(content, "_ten.predefined_graphs.0.nodes")
	require.Len(t, nodes.Array(), 3)
	var nodeKeys []string
	nodes.Array()[0].ForEach(func(k, _ gjson.Result) bool {
		nodeKeys = append(nodeKeys, k.String())
		return true
	})
	assert.Equal(t, []string{"name", "addon", "type"}, nodeKeys)
	assert.Equal(t, "ext4", nodes.Array()[2].Get("name").String())
	assert.NotContains(t, content, `"ext3"`)
	assert.Less(t, strings.Index(content, `"_ten"`), strings.Index(content, `"author"`))
}

func TestStore_ApplyErrors(t *testing.T) {
	store, dir, id := setup(t, Options{AutoPersist: true})
	ctx := context.Background()

	_, err := store.Apply(ctx, Request{GraphID: "missing", Operation: OpAddNode, Payload: payload(t, NodePayload{Name: "x", Addon: "addon1"})})
	assert.ErrorIs(t, err, ErrUnknownGraph)

	_, err = store.Apply(ctx, Request{GraphID: id, Operation: "rename_node", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownOperation)

	_, err = store.Apply(ctx, Request{GraphID: id, Operation: OpAddNode})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = store.Apply(ctx, Request{GraphID: id, Operation: OpAddNode, Payload: payload(t, NodePayload{Name: "ext9", Addon: "addon1", App: graph.StrPtr("localhost")})})
	assert.ErrorIs(t, err, graph.ErrInvariantViolated)

	dup := UpdateGraphPayload{Nodes: []graph.Node{
		{Type: graph.NodeTypeExtension, Name: "a", Addon: "addon1"},
		{Type: graph.NodeTypeExtension, Name: "a", Addon: "addon2"},
	}}
	_, err = store.Apply(ctx, Request{GraphID: id, Operation: OpUpdateGraph, Payload: payload(t, dup)})
	assert.ErrorIs(t, err, graph.ErrInvariantViolated)

	t.Run("write failure rolls back", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, property.FileName)))
		_, err := store.Apply(ctx, Request{GraphID: id, Operation: OpAddConnection, Payload: payload(t, connect("ext1", "ext2"))})
		assert.Error(t, err)

		info, err := store.Graph(id)
		require.NoError(t, err)
		assert.Nil(t, info.Graph.Connections)
		assert.Equal(t, StateLoaded, info.State)
	})
}

func TestStore_Refresh(t *testing.T) {
	store, dir, id := setup(t, Options{})

	edited := strings.Replace(appProperty, `"auto_start": true`, `"auto_start": false`, 1)
	edited = strings.Replace(edited, `{"type": "extension", "name": "ext3", "addon": "addon3"}`, `{"type": "extension", "name": "ext3", "addon": "addon2"}`, 1)
	writeFile(t, filepath.Join(dir, property.FileName), edited)

	require.NoError(t, store.Refresh(dir))

	info, err := store.Graph(id)
	require.NoError(t, err)
	assert.False(t, *info.AutoStart)
	assert.Equal(t, "addon2", info.Graph.Nodes[2].Addon)
}
