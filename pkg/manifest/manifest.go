package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

// FileName is the manifest file name inside a package directory
const FileName = "manifest.json"

// ErrInvalidManifest is returned for any manifest that fails to parse or validate
var ErrInvalidManifest = errors.New("invalid manifest")

var (
	// nameRegex validates package names
	nameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	envelopeOnce   sync.Once
	envelopeSchema *gojsonschema.Schema
	envelopeErr    error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	envelopeOnce.Do(func() {
		envelopeSchema, envelopeErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(ManifestSchema))
	})
	return envelopeSchema, envelopeErr
}

// Parse parses and validates manifest bytes
func Parse(data []byte) (*Manifest, error) {
	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var raw manifestJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse manifest JSON: %v", ErrInvalidManifest, err)
	}

	m, err := fromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	m.Hash = Hash(data)
	return m, nil
}

// Hash returns the hex sha256 of manifest bytes
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// validateSchema validates the manifest against the envelope schema
func validateSchema(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("schema compile error: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
}

// fromJSON performs validation beyond the envelope schema
func fromJSON(raw manifestJSON) (*Manifest, error) {
	t, err := ParsePkgType(raw.Type)
	if err != nil {
		return nil, err
	}
	if !nameRegex.MatchString(raw.Name) {
		return nil, fmt.Errorf("invalid package name: %q", raw.Name)
	}
	v, err := semver.ParseVersion(raw.Version)
	if err != nil {
		return nil, err
	}

	for i, s := range raw.Supports {
		if s.OS != "" && !ValidOS[s.OS] {
			return nil, fmt.Errorf("supports %d: unknown os %q", i, s.OS)
		}
		if s.Arch != "" && !ValidArch[s.Arch] {
			return nil, fmt.Errorf("supports %d: unknown arch %q", i, s.Arch)
		}
	}

	seen := make(map[string]bool, len(raw.Dependencies))
	for i, d := range raw.Dependencies {
		key := d.String()
		if !d.IsLocal() {
			key = d.TypeAndName().String()
		}
		if seen[key] {
			return nil, fmt.Errorf("dependency %d: duplicate dependency %s", i, key)
		}
		seen[key] = true
	}

	if raw.API != nil {
		if err := schema.ValidateAPI(raw.API); err != nil {
			return nil, err
		}
	}

	return &Manifest{
		TypeAndName:  TypeAndName{Type: t, Name: raw.Name},
		Version:      v,
		Dependencies: raw.Dependencies,
		Supports:     raw.Supports,
		API:          raw.API,
		Scripts:      raw.Scripts,
	}, nil
}

// Loader loads manifests from disk
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new manifest loader
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "manifest-loader").Logger(),
	}
}

// LoadFile loads manifest.json from path and stamps local dependencies with
// the directory that declared them.
func (l *Loader) LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for i := range m.Dependencies {
		if m.Dependencies[i].IsLocal() {
			m.Dependencies[i].BaseDir = baseDir
		}
	}

	l.logger.Debug().
		Str("package", m.TypeAndName.String()).
		Str("version", m.Version.String()).
		Msg("Loaded manifest")

	return m, nil
}

// LoadDir loads <dir>/manifest.json
func (l *Loader) LoadDir(dir string) (*Manifest, error) {
	return l.LoadFile(filepath.Join(dir, FileName))
}

// CheckFsLocation verifies that a package found under
// ten_packages/<kindDir>/<folderName>/ declares the matching kind and name.
func CheckFsLocation(m *Manifest, kindDir, folderName string) error {
	if string(m.Type) != kindDir {
		return fmt.Errorf("%w: package %s found under %q directory", ErrInvalidManifest, m.TypeAndName, kindDir)
	}
	if m.Name != folderName {
		return fmt.Errorf("%w: package %s found in folder %q", ErrInvalidManifest, m.TypeAndName, folderName)
	}
	return nil
}
