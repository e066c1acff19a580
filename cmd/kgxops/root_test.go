package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	kgxerr "kgxops/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"kgxops", "join", "dedupe", "normalize", "prune", "append", "merge", "stats"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	out, err := execute(t, "join", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--db")
	assert.Contains(t, out, "--config")
	assert.Contains(t, out, "--metrics-backend")
	assert.Contains(t, out, "--preserve-duplicates")
}

func TestJoinCommand_RequiresFiles(t *testing.T) {
	_, err := execute(t, "join")
	require.Error(t, err)
	assert.Equal(t, kgxerr.CodeConfigValidateInvalidValue, kgxerr.CodeOf(err))
	assert.Contains(t, err.Error(), "must provide at least one node or edge file")
}

func TestConfigCommand_MissingRunFile(t *testing.T) {
	_, err := execute(t, "--config", "/nonexistent/run.yaml", "stats")
	require.Error(t, err)
	assert.Equal(t, kgxerr.CodeConfigLoadRead, kgxerr.CodeOf(err))
}

func TestJoinThenStats(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "kg.db")
	nodes := writeFile(t, dir, "a_nodes.tsv", "id\tcategory\nA:1\tbiolink:Gene\nA:2\tbiolink:Gene\nA:3\tbiolink:Disease\n")
	edges := writeFile(t, dir, "a_edges.tsv", "subject\tpredicate\tobject\nA:1\tbiolink:related_to\tA:2\nA:2\tbiolink:related_to\tA:9\n")

	out, err := execute(t, "--db", db, "join", "--nodes", nodes, "--edges", edges)
	require.NoError(t, err, out)
	assert.Contains(t, out, "nodes 3  edges 2")

	out, err = execute(t, "--db", db, "prune", "--remove-singletons")
	require.NoError(t, err, out)
	assert.Contains(t, out, "dangling edges: 1")

	out, err = execute(t, "--db", db, "stats", "--schema")
	require.NoError(t, err, out)
	assert.Contains(t, out, "nodes 2  edges 1")
	assert.Contains(t, out, "dangling edges 1")
	assert.Contains(t, out, "singleton nodes 1")
	assert.Contains(t, out, "a_nodes.tsv")
}

func TestAppendCommand_ClassifiesPositionalFiles(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "kg.db")
	nodes := writeFile(t, dir, "a_nodes.tsv", "id\tname\nA:1\tone\n")
	more := writeFile(t, dir, "b_nodes.tsv", "id\tname\tsynonym\nB:1\ttwo\tdeux\n")

	_, err := execute(t, "--db", db, "join", "--nodes", nodes)
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "append", more)
	require.NoError(t, err, out)
	assert.Contains(t, out, "added column synonym")
	assert.Contains(t, out, "nodes 2")

	_, err = execute(t, "--db", db, "append", writeFile(t, dir, "extra.tsv", "id\nC:1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use --nodes or --edges")
}

func TestMergeCommand_RunFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "kg.db")
	writeFile(t, dir, "a_nodes.tsv", "id\nA:1\nA:2\n")
	writeFile(t, dir, "a_edges.tsv", "subject\tpredicate\tobject\nA:1\tbiolink:related_to\tA:2\n")
	run := writeFile(t, dir, "run.yaml", "database: "+db+"\n"+
		"node_files: ["+filepath.Join(dir, "a_nodes.tsv")+"]\n"+
		"edge_files: ["+filepath.Join(dir, "a_edges.tsv")+"]\n"+
		"skip_normalize: true\n")

	out, err := execute(t, "--config", run, "merge")
	require.NoError(t, err, out)
	assert.Contains(t, out, "pipeline completed: join -> deduplicate -> prune")
	assert.Contains(t, out, "(skipped: normalize)")

	out, err = execute(t, "--db", db, "stats")
	require.NoError(t, err, out)
	assert.Contains(t, out, "nodes 2  edges 1")
}
