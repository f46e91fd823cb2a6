// Package manifest declares a component catalog in YAML.
//
// A manifest lists component entries by id and kind. Kinds are looked up in a
// Registry, which turns each entry's options into a component factory:
//
//	schemaVersion: v1
//	entrypoints: [http]
//	components:
//	  - id: cache
//	    kind: lru-cache
//	    options: {size: 256}
//	  - id: http
//	    kind: http-server
//	    version: ">= 1.0"
//	    dependsOn: [cache]
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/logging"
)

// SchemaVersion is the only manifest schema understood by this package.
const SchemaVersion = "v1"

// File is a parsed manifest.
type File struct {
	// SchemaVersion must be "v1"
	SchemaVersion string `yaml:"schemaVersion"`

	// Entrypoints limits the system to these components and their
	// dependencies. Empty means auto-detect.
	Entrypoints []string `yaml:"entrypoints,omitempty"`

	// Components in declaration order
	Components []Entry `yaml:"components"`
}

// Entry declares one component.
type Entry struct {
	ID        string    `yaml:"id"`
	Kind      string    `yaml:"kind"`
	Version   string    `yaml:"version,omitempty"`
	DependsOn []string  `yaml:"dependsOn,omitempty"`
	Options   yaml.Node `yaml:"options,omitempty"`
}

// Spec is what a Kind sees of an entry.
type Spec struct {
	ID        component.ID
	Kind      string
	DependsOn []component.ID
	options   *yaml.Node
}

// NewSpec builds a Spec from an entry.
func NewSpec(e Entry) Spec {
	spec := Spec{
		ID:        component.ID(e.ID),
		Kind:      e.Kind,
		DependsOn: toIDs(e.DependsOn),
	}
	if e.Options.Kind != 0 {
		opts := e.Options
		spec.options = &opts
	}
	return spec
}

// Decode decodes the entry's options into v. Without options, v is left
// untouched so callers can pre-fill defaults.
func (s Spec) Decode(v interface{}) error {
	if s.options == nil {
		return nil
	}
	if err := s.options.Decode(v); err != nil {
		return fmt.Errorf("component %q: invalid options for kind %q: %w", s.ID, s.Kind, err)
	}
	return nil
}

// Parse decodes and validates a manifest. Unknown top-level and entry fields
// are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest is empty")
		}
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &f, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks the manifest structure. It does not look at kinds or the
// dependency graph; see Catalog and resolver.Validate for that.
func (f *File) Validate() error {
	if f.SchemaVersion == "" {
		return fmt.Errorf("schemaVersion is required")
	}
	if f.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schemaVersion %q (expected %q)", f.SchemaVersion, SchemaVersion)
	}

	if len(f.Components) == 0 {
		return fmt.Errorf("at least one component must be declared")
	}

	ids := make(map[string]struct{}, len(f.Components))
	for i, e := range f.Components {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("components[%d]: id must not be empty", i)
		}
		if _, dup := ids[e.ID]; dup {
			return fmt.Errorf("components[%d]: duplicate id %q", i, e.ID)
		}
		ids[e.ID] = struct{}{}

		if strings.TrimSpace(e.Kind) == "" {
			return fmt.Errorf("components[%d] (%s): kind must not be empty", i, e.ID)
		}
		if e.Version != "" {
			if _, err := version.NewConstraint(e.Version); err != nil {
				return fmt.Errorf("components[%d] (%s): invalid version constraint %q: %w", i, e.ID, e.Version, err)
			}
		}
		for j, dep := range e.DependsOn {
			if strings.TrimSpace(dep) == "" {
				return fmt.Errorf("components[%d] (%s): dependsOn[%d] must not be empty", i, e.ID, j)
			}
		}
	}

	for i, ep := range f.Entrypoints {
		if _, ok := ids[ep]; !ok {
			return fmt.Errorf("entrypoints[%d]: %q is not a declared component", i, ep)
		}
	}
	return nil
}

// EntrypointIDs returns the declared entrypoints.
func (f *File) EntrypointIDs() []component.ID {
	return toIDs(f.Entrypoints)
}

// Catalog builds a component catalog, resolving every entry's kind in reg.
func (f *File) Catalog(reg *Registry) (*component.Catalog, error) {
	logger := logging.GetLogger("manifest")
	catalog := component.NewCatalog()

	for _, e := range f.Components {
		kind, ok := reg.Get(e.Kind)
		if !ok {
			return nil, &UnknownKindError{ID: e.ID, Kind: e.Kind, Known: reg.List()}
		}

		if e.Version != "" {
			if err := checkVersion(e, kind); err != nil {
				return nil, err
			}
		}

		factory, err := kind.New(NewSpec(e))
		if err != nil {
			return nil, fmt.Errorf("component %q (kind %s): %w", e.ID, e.Kind, err)
		}

		err = catalog.Register(component.Descriptor{
			ID:        component.ID(e.ID),
			DependsOn: toIDs(e.DependsOn),
			Factory:   factory,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("Declared component %s (kind %s %s)", e.ID, kind.Name, kind.Version)
	}
	return catalog, nil
}

func checkVersion(e Entry, k Kind) error {
	constraint, err := version.NewConstraint(e.Version)
	if err != nil {
		return fmt.Errorf("component %q: invalid version constraint %q: %w", e.ID, e.Version, err)
	}
	v, err := version.NewVersion(k.Version)
	if err != nil {
		return fmt.Errorf("kind %q has invalid version %q: %w", k.Name, k.Version, err)
	}
	if !constraint.Check(v) {
		return &VersionMismatchError{ID: e.ID, Kind: k.Name, Constraint: e.Version, Version: k.Version}
	}
	return nil
}

func toIDs(in []string) []component.ID {
	if len(in) == 0 {
		return nil
	}
	out := make([]component.ID, len(in))
	for i, s := range in {
		out[i] = component.ID(s)
	}
	return out
}

// UnknownKindError means an entry names a kind the registry does not have.
type UnknownKindError struct {
	ID    string
	Kind  string
	Known []string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("component %q: unknown kind %q (known kinds: %s)", e.ID, e.Kind, strings.Join(e.Known, ", "))
}

// VersionMismatchError means the registered kind does not satisfy an entry's
// version constraint.
type VersionMismatchError struct {
	ID         string
	Kind       string
	Constraint string
	Version    string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("component %q: kind %s version %s does not satisfy %q", e.ID, e.Kind, e.Version, e.Constraint)
}
