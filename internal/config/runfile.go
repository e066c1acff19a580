package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	kgxerr "kgxops/internal/errors"

	"gopkg.in/yaml.v3"
)

// RunFile is the on-disk description of a run. One file can drive any
// operation; each operation reads the fields it needs.
type RunFile struct {
	Database string `yaml:"database,omitempty" json:"database,omitempty"`

	NodeFiles    []FileSpec `yaml:"node_files,omitempty" json:"node_files,omitempty"`
	EdgeFiles    []FileSpec `yaml:"edge_files,omitempty" json:"edge_files,omitempty"`
	MappingFiles []FileSpec `yaml:"mapping_files,omitempty" json:"mapping_files,omitempty"`

	PreserveDuplicates bool `yaml:"preserve_duplicates,omitempty" json:"preserve_duplicates,omitempty"`
	GenerateProvidedBy bool `yaml:"generate_provided_by,omitempty" json:"generate_provided_by,omitempty"`
	Deduplicate        bool `yaml:"deduplicate,omitempty" json:"deduplicate,omitempty"`

	SkipDeduplicate bool `yaml:"skip_deduplicate,omitempty" json:"skip_deduplicate,omitempty"`
	SkipNormalize   bool `yaml:"skip_normalize,omitempty" json:"skip_normalize,omitempty"`
	SkipPrune       bool `yaml:"skip_prune,omitempty" json:"skip_prune,omitempty"`

	KeepSingletons   *bool `yaml:"keep_singletons,omitempty" json:"keep_singletons,omitempty"`
	RemoveSingletons bool  `yaml:"remove_singletons,omitempty" json:"remove_singletons,omitempty"`
	MinComponentSize int   `yaml:"min_component_size,omitempty" json:"min_component_size,omitempty"`

	ContinueOnStepError bool `yaml:"continue_on_pipeline_step_error,omitempty" json:"continue_on_pipeline_step_error,omitempty"`

	Loader LoaderConfig `yaml:"loader,omitempty" json:"loader,omitempty"`
}

// LoadRunFile reads a run file. Files ending in .json are decoded as JSON,
// anything else as YAML. Unknown keys are rejected.
func LoadRunFile(path string) (RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunFile{}, kgxerr.Wrap(err, kgxerr.CodeConfigLoadRead, "read run file", kgxerr.FieldPath(path))
	}
	rf, err := ParseRunFile(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return RunFile{}, kgxerr.Wrap(err, kgxerr.CodeConfigParseInvalidFormat, "parse run file", kgxerr.FieldPath(path))
	}
	return rf, nil
}

// ParseRunFile decodes data as JSON or YAML.
func ParseRunFile(data []byte, isJSON bool) (RunFile, error) {
	var rf RunFile
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rf); err != nil {
			return RunFile{}, err
		}
		return rf, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
		return RunFile{}, err
	}
	return rf, nil
}

func (r RunFile) singletons() (SingletonPolicy, []Issue) {
	p, err := SingletonFlags(r.KeepSingletons, r.RemoveSingletons)
	if err != nil {
		return p, []Issue{errIssue("keep_singletons", "%v", err)}
	}
	return p, nil
}

func (r RunFile) Join() JoinConfig {
	return JoinConfig{
		NodeFiles:          r.NodeFiles,
		EdgeFiles:          r.EdgeFiles,
		PreserveDuplicates: r.PreserveDuplicates,
		GenerateProvidedBy: r.GenerateProvidedBy,
		Loader:             r.Loader,
	}
}

func (r RunFile) Normalize() NormalizeConfig {
	return NormalizeConfig{MappingFiles: r.MappingFiles, Loader: r.Loader}
}

// Prune returns the prune config and any issue found converting the
// singleton flags.
func (r RunFile) Prune() (PruneConfig, []Issue) {
	p, issues := r.singletons()
	return PruneConfig{Singletons: p, MinComponentSize: r.MinComponentSize}, issues
}

func (r RunFile) Append() AppendConfig {
	return AppendConfig{
		NodeFiles:          r.NodeFiles,
		EdgeFiles:          r.EdgeFiles,
		Deduplicate:        r.Deduplicate,
		GenerateProvidedBy: r.GenerateProvidedBy,
		Loader:             r.Loader,
	}
}

func (r RunFile) Merge() (MergeConfig, []Issue) {
	p, issues := r.singletons()
	return MergeConfig{
		NodeFiles:           r.NodeFiles,
		EdgeFiles:           r.EdgeFiles,
		MappingFiles:        r.MappingFiles,
		SkipDeduplicate:     r.SkipDeduplicate,
		SkipNormalize:       r.SkipNormalize,
		SkipPrune:           r.SkipPrune,
		Singletons:          p,
		MinComponentSize:    r.MinComponentSize,
		ContinueOnStepError: r.ContinueOnStepError,
		GenerateProvidedBy:  r.GenerateProvidedBy,
		Loader:              r.Loader,
	}, issues
}
