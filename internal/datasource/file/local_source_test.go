package file

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func xzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func TestLocalOpen(t *testing.T) {
	t.Parallel()
	const payload = "id\tname\nA\tAlpha\n"

	cases := []struct {
		name string
		file string
		data func(t *testing.T) []byte
	}{
		{name: "plain", file: "n_nodes.tsv", data: func(*testing.T) []byte { return []byte(payload) }},
		{name: "gzip", file: "n_nodes.tsv.gz", data: func(t *testing.T) []byte { return gzipped(t, payload) }},
		{name: "xz", file: "n_nodes.tsv.xz", data: func(t *testing.T) []byte { return xzipped(t, payload) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, c.file, c.data(t))
			rc, err := NewLocal(p).Open(context.Background())
			require.NoError(t, err)
			defer rc.Close()
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestLocalOpenErrors(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "missing.tsv")
	_, err := NewLocal(missing).Open(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 1, strings.Count(err.Error(), missing), err.Error())

	_, err = NewLocal(writeFile(t, "bad.tsv.gz", []byte("not gzip"))).Open(context.Background())
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLocal(writeFile(t, "x.tsv", nil)).Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDetect(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path   string
		format Format
		comp   Compression
		stem   string
		kind   string
	}{
		{"data/hgnc_nodes.tsv", TSV, None, "hgnc_nodes", "nodes"},
		{"hgnc_edges.tsv.gz", TSV, Gzip, "hgnc_edges", "edges"},
		{"nodes.jsonl.xz", JSONL, XZ, "nodes", "nodes"},
		{"edges.json", JSONL, None, "edges", "edges"},
		{"ctd.parquet", Parquet, None, "ctd", ""},
		{"mondo.sssom.tsv", TSV, None, "mondo.sssom", ""},
		{"table.csv.bz2", CSV, Bzip2, "table", ""},
	}
	for _, c := range cases {
		f, err := DetectFormat(c.path)
		require.NoError(t, err, c.path)
		assert.Equal(t, c.format, f, c.path)
		assert.Equal(t, c.comp, DetectCompression(c.path), c.path)
		assert.Equal(t, c.stem, Stem(c.path), c.path)
		assert.Equal(t, c.kind, RecordKind(c.path), c.path)
	}

	_, err := DetectFormat("graph.xlsx")
	require.Error(t, err)

	f, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, JSONL, f)
	_, err = ParseFormat("xml")
	require.Error(t, err)
}
