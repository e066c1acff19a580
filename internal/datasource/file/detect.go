package file

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Compression is the outer compression of an input file.
type Compression string

const (
	None  Compression = ""
	Gzip  Compression = "gzip"
	Bzip2 Compression = "bzip2"
	XZ    Compression = "xz"
)

// Format is the tabular encoding of an input file.
type Format string

const (
	TSV     Format = "tsv"
	CSV     Format = "csv"
	JSONL   Format = "jsonl"
	Parquet Format = "parquet"
)

var compressionExts = map[string]Compression{
	".gz":   Gzip,
	".gzip": Gzip,
	".bz2":  Bzip2,
	".xz":   XZ,
}

var formatExts = map[string]Format{
	".tsv":     TSV,
	".txt":     TSV,
	".csv":     CSV,
	".jsonl":   JSONL,
	".json":    JSONL,
	".ndjson":  JSONL,
	".parquet": Parquet,
}

// DetectCompression reports the compression implied by the file extension.
func DetectCompression(path string) Compression {
	return compressionExts[strings.ToLower(filepath.Ext(path))]
}

// DetectFormat infers the format from the extension left after removing a
// compression suffix.
func DetectFormat(path string) (Format, error) {
	name := stripCompression(filepath.Base(path))
	if f, ok := formatExts[strings.ToLower(filepath.Ext(name))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("cannot infer format of %s", path)
}

// ParseFormat validates an explicitly configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case TSV, CSV, JSONL, Parquet:
		return f, nil
	case "json", "ndjson":
		return JSONL, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Stem returns the file name without directory, compression or format
// extensions: "data/hgnc_nodes.tsv.gz" -> "hgnc_nodes".
func Stem(path string) string {
	name := stripCompression(filepath.Base(path))
	if _, ok := formatExts[strings.ToLower(filepath.Ext(name))]; ok {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name
}

func stripCompression(name string) string {
	if _, ok := compressionExts[strings.ToLower(filepath.Ext(name))]; ok {
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name
}

// RecordKind reports whether a file name looks like a KGX node or edge
// file ("*_nodes.*", "nodes.*", "*_edges.*", "edges.*"). It returns "" when
// the name says neither.
func RecordKind(path string) string {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "_nodes.") || strings.HasPrefix(name, "nodes."):
		return "nodes"
	case strings.Contains(name, "_edges.") || strings.HasPrefix(name, "edges."):
		return "edges"
	}
	return ""
}
