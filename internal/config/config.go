// Package config defines the typed configuration of every graph operation.
//
// Each operation has its own struct, validated eagerly by a Validate*
// function before any table is touched. Run files (YAML or JSON) decode into
// RunFile, which converts into the per-operation structs.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Record types a FileSpec may declare.
const (
	RecordNodes    = "nodes"
	RecordEdges    = "edges"
	RecordMappings = "mappings"
)

// FileSpec names one input file. Format and RecordType are inferred from the
// file name when empty; SourceName defaults to the file stem.
type FileSpec struct {
	Path       string `yaml:"path" json:"path"`
	SourceName string `yaml:"source_name,omitempty" json:"source_name,omitempty"`
	Format     string `yaml:"format,omitempty" json:"format,omitempty"`
	RecordType string `yaml:"record_type,omitempty" json:"record_type,omitempty"`
}

// UnmarshalYAML accepts either a mapping or a bare path.
func (f *FileSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		f.Path = n.Value
		return nil
	}
	type plain FileSpec
	return n.Decode((*plain)(f))
}

// UnmarshalJSON accepts either an object or a bare path string.
func (f *FileSpec) UnmarshalJSON(b []byte) error {
	var path string
	if err := json.Unmarshal(b, &path); err == nil {
		f.Path = path
		return nil
	}
	type plain FileSpec
	return json.Unmarshal(b, (*plain)(f))
}

// FileSpecs builds specs from bare paths, optionally tagged with a record
// type.
func FileSpecs(recordType string, paths ...string) []FileSpec {
	out := make([]FileSpec, 0, len(paths))
	for _, p := range paths {
		out = append(out, FileSpec{Path: p, RecordType: recordType})
	}
	return out
}

// LoaderConfig tunes how input files are parsed.
type LoaderConfig struct {
	// Multivalued declares extra array-valued columns.
	Multivalued []string `yaml:"multivalued,omitempty" json:"multivalued,omitempty"`
	// SingleValued replaces the built-in forced single-valued set when set.
	SingleValued []string `yaml:"single_valued,omitempty" json:"single_valued,omitempty"`
	// ListDelimiter splits multivalued fields in delimited files ("|").
	ListDelimiter string `yaml:"list_delimiter,omitempty" json:"list_delimiter,omitempty"`
	// ColumnTypes declares column types for delimited files.
	ColumnTypes map[string]string `yaml:"column_types,omitempty" json:"column_types,omitempty"`
	// Workers bounds concurrent file parsing. Zero uses GOMAXPROCS.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// SingletonPolicy decides what pruning does with nodes that have no edges.
type SingletonPolicy int

const (
	KeepSingletons SingletonPolicy = iota
	ArchiveSingletons
)

func (p SingletonPolicy) String() string {
	if p == ArchiveSingletons {
		return "archive"
	}
	return "keep"
}

// ParseSingletonPolicy accepts "keep" or "archive" ("remove" is an alias).
func ParseSingletonPolicy(s string) (SingletonPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return KeepSingletons, nil
	case "archive", "remove":
		return ArchiveSingletons, nil
	}
	return KeepSingletons, fmt.Errorf("unknown singleton policy %q", s)
}

// SingletonFlags folds the keep/remove boolean pair used by run files and
// flags into a policy. Keep defaults to true, so only remove=true or an
// explicit keep=false archive. Both set true is an error.
func SingletonFlags(keep *bool, remove bool) (SingletonPolicy, error) {
	keepSet := keep == nil || *keep
	if keep != nil && *keep && remove {
		return KeepSingletons, fmt.Errorf("cannot both keep and remove singletons")
	}
	if remove || !keepSet {
		return ArchiveSingletons, nil
	}
	return KeepSingletons, nil
}

// JoinConfig loads node and edge files into a store.
type JoinConfig struct {
	NodeFiles []FileSpec
	EdgeFiles []FileSpec
	// PreserveDuplicates leaves duplicate keys in place; when false the joined
	// tables are deduplicated right away.
	PreserveDuplicates bool
	// GenerateProvidedBy injects provided_by from the source name when the
	// file lacks it.
	GenerateProvidedBy bool
	Loader             LoaderConfig
}

// DeduplicateConfig selects the tables to deduplicate.
type DeduplicateConfig struct {
	SkipNodes bool
	SkipEdges bool
}

// NormalizeConfig rewrites edge endpoints through SSSOM mapping files.
type NormalizeConfig struct {
	MappingFiles []FileSpec
	Loader       LoaderConfig
}

// PruneConfig removes dangling edges and optionally singleton nodes and
// small components.
type PruneConfig struct {
	Singletons SingletonPolicy
	// MinComponentSize archives connected components with fewer nodes. Zero
	// disables the check.
	MinComponentSize int
}

// AppendConfig adds files to an existing store.
type AppendConfig struct {
	NodeFiles          []FileSpec
	EdgeFiles          []FileSpec
	Deduplicate        bool
	GenerateProvidedBy bool
	Loader             LoaderConfig
}

// MergeConfig drives the join, deduplicate, normalize and prune pipeline.
type MergeConfig struct {
	NodeFiles    []FileSpec
	EdgeFiles    []FileSpec
	MappingFiles []FileSpec

	SkipDeduplicate bool
	SkipNormalize   bool
	SkipPrune       bool

	Singletons       SingletonPolicy
	MinComponentSize int

	// ContinueOnStepError records a failed step as a warning and carries on
	// with the next one instead of aborting.
	ContinueOnStepError bool

	GenerateProvidedBy bool
	Loader             LoaderConfig
}

// Join returns the join step of the merge pipeline. Deduplication is its own
// step there, so duplicates are always preserved.
func (m MergeConfig) Join() JoinConfig {
	return JoinConfig{
		NodeFiles:          m.NodeFiles,
		EdgeFiles:          m.EdgeFiles,
		PreserveDuplicates: true,
		GenerateProvidedBy: m.GenerateProvidedBy,
		Loader:             m.Loader,
	}
}

func (m MergeConfig) Normalize() NormalizeConfig {
	return NormalizeConfig{MappingFiles: m.MappingFiles, Loader: m.Loader}
}

func (m MergeConfig) Prune() PruneConfig {
	return PruneConfig{Singletons: m.Singletons, MinComponentSize: m.MinComponentSize}
}
