package config

import (
	"fmt"
	"strings"

	"kgxops/internal/datasource/file"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// config, e.g. "edge_files[1].format".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

func errIssue(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)}
}

func warnIssue(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Err folds the error-severity issues into one error coded
// config.validate.invalid_value. It returns nil when there are none.
func Err(issues []Issue) error {
	var msgs []string
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			msgs = append(msgs, iss.Path+": "+iss.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return kgxerr.New(kgxerr.CodeConfigValidateInvalidValue,
		"invalid configuration: "+strings.Join(msgs, "; "),
		kgxerr.Field("issues", len(msgs)))
}

// Warnings returns the messages of warning-severity issues.
func Warnings(issues []Issue) []string {
	var out []string
	for _, iss := range issues {
		if iss.Severity == SeverityWarning {
			out = append(out, iss.Error())
		}
	}
	return out
}

func ValidateJoin(c JoinConfig) []Issue {
	var issues []Issue
	if len(c.NodeFiles) == 0 && len(c.EdgeFiles) == 0 {
		issues = append(issues, errIssue("files", "must provide at least one node or edge file"))
	}
	issues = append(issues, validateFiles("node_files", c.NodeFiles, RecordNodes)...)
	issues = append(issues, validateFiles("edge_files", c.EdgeFiles, RecordEdges)...)
	issues = append(issues, validateLoader("loader", c.Loader)...)
	return issues
}

func ValidateNormalize(c NormalizeConfig) []Issue {
	var issues []Issue
	if len(c.MappingFiles) == 0 {
		issues = append(issues, errIssue("mapping_files", "must provide at least one SSSOM mapping file"))
	}
	issues = append(issues, validateFiles("mapping_files", c.MappingFiles, RecordMappings)...)
	issues = append(issues, validateLoader("loader", c.Loader)...)
	return issues
}

func ValidatePrune(c PruneConfig) []Issue {
	var issues []Issue
	if c.Singletons != KeepSingletons && c.Singletons != ArchiveSingletons {
		issues = append(issues, errIssue("singletons", "unknown singleton policy %d", int(c.Singletons)))
	}
	if c.MinComponentSize < 0 {
		issues = append(issues, errIssue("min_component_size", "must not be negative"))
	}
	return issues
}

func ValidateAppend(c AppendConfig) []Issue {
	var issues []Issue
	if len(c.NodeFiles) == 0 && len(c.EdgeFiles) == 0 {
		issues = append(issues, errIssue("files", "must provide at least one node or edge file"))
	}
	issues = append(issues, validateFiles("node_files", c.NodeFiles, RecordNodes)...)
	issues = append(issues, validateFiles("edge_files", c.EdgeFiles, RecordEdges)...)
	issues = append(issues, validateLoader("loader", c.Loader)...)
	return issues
}

func ValidateMerge(c MergeConfig) []Issue {
	var issues []Issue
	if len(c.NodeFiles) == 0 && len(c.EdgeFiles) == 0 {
		issues = append(issues, errIssue("files", "must provide at least one node or edge file"))
	}
	if !c.SkipNormalize && len(c.MappingFiles) == 0 {
		issues = append(issues, errIssue("mapping_files", "must provide mapping files or set skip_normalize"))
	}
	if c.SkipNormalize && len(c.MappingFiles) > 0 {
		issues = append(issues, warnIssue("mapping_files", "mapping files are ignored because skip_normalize is set"))
	}
	if c.SkipPrune && (c.Singletons == ArchiveSingletons || c.MinComponentSize > 0) {
		issues = append(issues, warnIssue("skip_prune", "prune options are ignored because skip_prune is set"))
	}
	issues = append(issues, validateFiles("node_files", c.NodeFiles, RecordNodes)...)
	issues = append(issues, validateFiles("edge_files", c.EdgeFiles, RecordEdges)...)
	issues = append(issues, validateFiles("mapping_files", c.MappingFiles, RecordMappings)...)
	issues = append(issues, ValidatePrune(c.Prune())...)
	issues = append(issues, validateLoader("loader", c.Loader)...)
	return issues
}

func validateFiles(path string, specs []FileSpec, want string) []Issue {
	var issues []Issue
	for i, s := range specs {
		p := fmt.Sprintf("%s[%d]", path, i)
		if strings.TrimSpace(s.Path) == "" {
			issues = append(issues, errIssue(p+".path", "must not be empty"))
			continue
		}
		if s.Format != "" {
			if _, err := file.ParseFormat(s.Format); err != nil {
				issues = append(issues, errIssue(p+".format", "%v", err))
			}
		} else if _, err := file.DetectFormat(s.Path); err != nil {
			issues = append(issues, errIssue(p+".format", "%v; set format explicitly", err))
		}
		switch s.RecordType {
		case "", want:
		case RecordNodes, RecordEdges, RecordMappings:
			issues = append(issues, warnIssue(p+".record_type", "%s file listed under %s", s.RecordType, path))
		default:
			issues = append(issues, errIssue(p+".record_type", "unknown record type %q", s.RecordType))
		}
	}
	return issues
}

func validateLoader(path string, c LoaderConfig) []Issue {
	var issues []Issue
	for col, t := range c.ColumnTypes {
		if _, err := schema.ParseType(t); err != nil {
			issues = append(issues, errIssue(path+".column_types."+col, "%v", err))
		}
	}
	if c.Workers < 0 {
		issues = append(issues, errIssue(path+".workers", "must not be negative"))
	}
	if c.ListDelimiter == "\t" || c.ListDelimiter == "," {
		issues = append(issues, warnIssue(path+".list_delimiter", "list delimiter %q collides with a field delimiter", c.ListDelimiter))
	}
	return issues
}

// Types parses ColumnTypes. Invalid entries are skipped; ValidateX reports
// them.
func (c LoaderConfig) Types() map[string]schema.Type {
	if len(c.ColumnTypes) == 0 {
		return nil
	}
	out := make(map[string]schema.Type, len(c.ColumnTypes))
	for col, s := range c.ColumnTypes {
		if t, err := schema.ParseType(s); err == nil {
			out[col] = t
		}
	}
	return out
}
