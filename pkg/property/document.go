package property

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
)

// FileName is the property file name inside an app directory
const FileName = "property.json"

const (
	graphsPath = "_ten.predefined_graphs"
	uriPath    = "_ten.uri"
)

var (
	// ErrInvalidProperty is returned for a property file that is not a JSON object
	ErrInvalidProperty = errors.New("invalid property file")

	// ErrGraphNotFound is returned when a named predefined graph is missing
	ErrGraphNotFound = errors.New("predefined graph not found")

	// ErrPropertyWriteFailed is returned when the property file cannot be replaced
	ErrPropertyWriteFailed = errors.New("property write failed")
)

var prettyOptions = &pretty.Options{Width: 80, Prefix: "", Indent: "  ", SortKeys: false}

// Document is an app property file kept as raw bytes so that every key
// keeps its position across edits
type Document struct {
	raw   []byte
	dirty bool
}

// Parse wraps property bytes; the top level must be an object
func Parse(data []byte) (*Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidProperty)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("%w: top level must be an object", ErrInvalidProperty)
	}
	if g := gjson.GetBytes(data, graphsPath); g.Exists() && !g.IsArray() {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidProperty, graphsPath)
	}
	return &Document{raw: append([]byte(nil), data...)}, nil
}

// LoadFile reads and parses a property file
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read property file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Bytes returns the current document
func (d *Document) Bytes() []byte {
	return d.raw
}

// Dirty reports whether the document changed since it was loaded or written
func (d *Document) Dirty() bool {
	return d.dirty
}

// AppURI returns _ten.uri, or nil when the app leaves it unspecified
func (d *Document) AppURI() *string {
	res := gjson.GetBytes(d.raw, uriPath)
	if !res.Exists() || res.Type != gjson.String {
		return nil
	}
	uri := res.String()
	return &uri
}

// PredefinedGraphs decodes every predefined graph in file order
func (d *Document) PredefinedGraphs() ([]graph.PredefinedGraph, error) {
	res := gjson.GetBytes(d.raw, graphsPath)
	if !res.Exists() {
		return nil, nil
	}

	var graphs []graph.PredefinedGraph
	if err := json.Unmarshal([]byte(res.Raw), &graphs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProperty, graphsPath, err)
	}
	for i := range graphs {
		if len(graphs[i].Connections) == 0 {
			graphs[i].Connections = nil
		}
	}
	return graphs, nil
}

// Graph decodes one predefined graph by name
func (d *Document) Graph(name string) (*graph.PredefinedGraph, error) {
	graphs, err := d.PredefinedGraphs()
	if err != nil {
		return nil, err
	}
	for i := range graphs {
		if graphs[i].Name == name {
			return &graphs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrGraphNotFound, name)
}

// WriteFile re-indents the document and atomically replaces path with it.
// A document without edits is not written.
func (d *Document) WriteFile(path string) error {
	if !d.dirty {
		return nil
	}

	data := pretty.PrettyOptions(d.raw, prettyOptions)
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPropertyWriteFailed, err)
	}

	d.raw = data
	d.dirty = false
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace property file: %w", err)
	}
	return nil
}

// marshal encodes v compactly without HTML escaping
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
