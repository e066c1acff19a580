package graph_test

import (
	"context"
	"path/filepath"
	"testing"

	"kgxops/internal/config"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sssomHeader = "# mapping_set_id: https://example.org/test.sssom.tsv\n" +
	"# license: https://creativecommons.org/publicdomain/zero/1.0/\n" +
	"subject_id\tpredicate_id\tobject_id\tmapping_justification\n"

func TestNormalizeRewritesEndpoints(t *testing.T) {
	f := newFixture(t)
	f.join(
		[]config.FileSpec{f.file("nodes.tsv", "id\nMONDO:0007254\nHGNC:1100\n")},
		[]config.FileSpec{f.file("edges.tsv", "subject\tpredicate\tobject\nHGNC:1100\tbiolink:related_to\tOMIM:114480\n")},
	)
	mapping := f.file("mondo.sssom.tsv", sssomHeader+
		"MONDO:0007254\tskos:exactMatch\tOMIM:114480\tsemapv:ManualMappingCuration\n")

	res, err := f.engine.Normalize(context.Background(), config.NormalizeConfig{MappingFiles: []config.FileSpec{mapping}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.EdgesNormalized)
	assert.Equal(t, int64(1), res.ObjectsNormalized)
	assert.Zero(t, res.SubjectsNormalized)
	assert.Equal(t, res.EdgesBefore, res.EdgesAfter)

	edges := f.rows(storage.TableEdges)
	require.Len(t, edges, 1)
	assert.Equal(t, "MONDO:0007254", edges[0]["object"])
	assert.Equal(t, "OMIM:114480", edges[0]["original_object"])
	assert.Nil(t, edges[0]["original_subject"])
	assert.Equal(t, "HGNC:1100", edges[0]["subject"])

	// the rewritten edge now resolves
	pr, err := f.engine.Prune(context.Background(), config.PruneConfig{Singletons: config.KeepSingletons})
	require.NoError(t, err)
	assert.Zero(t, pr.DanglingEdges)
}

func TestNormalizeCollapsesDuplicateMappings(t *testing.T) {
	f := newFixture(t)
	f.join(nil, []config.FileSpec{f.file("edges.tsv", "subject\tpredicate\tobject\nA:1\tp\tB:1\nB:1\tp\tC:1\n")})
	first := f.file("first.sssom.tsv", sssomHeader+
		"Z:9\tskos:exactMatch\tB:1\tsemapv:LexicalMatching\n"+
		"Y:1\tskos:exactMatch\tB:1\tsemapv:LexicalMatching\n")
	second := f.file("second.sssom.tsv", sssomHeader+
		"X:1\tskos:exactMatch\tB:1\tsemapv:LexicalMatching\n"+
		"W:1\tskos:exactMatch\tC:1\tsemapv:LexicalMatching\n")

	res, err := f.engine.Normalize(context.Background(), config.NormalizeConfig{
		MappingFiles: []config.FileSpec{first, second},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.DuplicateMappings)
	assert.Equal(t, int64(2), res.Mappings)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "discarded 2 duplicate mappings")

	// first file wins, then the lowest subject_id within it
	assert.Equal(t, []any{"A:1", "Y:1"}, f.column(storage.TableEdges, "subject"))
	assert.Equal(t, []any{"Y:1", "W:1"}, f.column(storage.TableEdges, "object"))
	assert.Equal(t, int64(3), f.count(storage.TableDuplicateMappings))
	assert.Equal(t, int64(2), res.EdgesNormalized)
	assert.Equal(t, int64(1), res.SubjectsNormalized)
	assert.Equal(t, int64(2), res.ObjectsNormalized)
}

func TestNormalizeIsStableOnRerun(t *testing.T) {
	f := newFixture(t)
	f.join(nil, []config.FileSpec{f.file("edges.tsv", "subject\tpredicate\tobject\nOMIM:1\tp\tOMIM:2\n")})
	mapping := f.file("m.sssom.tsv", sssomHeader+
		"MONDO:1\tskos:exactMatch\tOMIM:1\tsemapv:ManualMappingCuration\n"+
		"MONDO:2\tskos:exactMatch\tOMIM:2\tsemapv:ManualMappingCuration\n")
	cfg := config.NormalizeConfig{MappingFiles: []config.FileSpec{mapping}}

	_, err := f.engine.Normalize(context.Background(), cfg)
	require.NoError(t, err)
	again, err := f.engine.Normalize(context.Background(), cfg)
	require.NoError(t, err)
	assert.Zero(t, again.EdgesNormalized)

	edges := f.rows(storage.TableEdges)
	require.Len(t, edges, 1)
	assert.Equal(t, "MONDO:1", edges[0]["subject"])
	assert.Equal(t, "OMIM:1", edges[0]["original_subject"])
	assert.Equal(t, "OMIM:2", edges[0]["original_object"])
	assert.Equal(t, int64(2), f.count(storage.TableMappings))
}

func TestNormalizeKeepsFirstOriginal(t *testing.T) {
	f := newFixture(t)
	f.join(nil, []config.FileSpec{f.file("edges.tsv", "subject\tpredicate\tobject\nA:1\tp\tOMIM:1\n")})
	step1 := f.file("one.sssom.tsv", sssomHeader+"DOID:1\tskos:exactMatch\tOMIM:1\tsemapv:ManualMappingCuration\n")
	step2 := f.file("two.sssom.tsv", sssomHeader+"MONDO:1\tskos:exactMatch\tDOID:1\tsemapv:ManualMappingCuration\n")

	_, err := f.engine.Normalize(context.Background(), config.NormalizeConfig{MappingFiles: []config.FileSpec{step1}})
	require.NoError(t, err)
	_, err = f.engine.Normalize(context.Background(), config.NormalizeConfig{MappingFiles: []config.FileSpec{step2}})
	require.NoError(t, err)

	assert.Equal(t, []any{"MONDO:1"}, f.column(storage.TableEdges, "object"))
	assert.Equal(t, []any{"OMIM:1"}, f.column(storage.TableEdges, "original_object"))
}

func TestNormalizeFailsWithoutLoadableMappings(t *testing.T) {
	f := newFixture(t)
	f.join(nil, []config.FileSpec{f.file("edges.tsv", "subject\tpredicate\tobject\nA:1\tp\tB:1\n")})

	res, err := f.engine.Normalize(context.Background(), config.NormalizeConfig{
		MappingFiles: []config.FileSpec{{Path: filepath.Join(f.dir, "absent.sssom.tsv")}},
	})
	require.Error(t, err)
	assert.Equal(t, kgxerr.CodeInputNoneLoaded, kgxerr.CodeOf(err))
	assert.False(t, res.Success)
	assert.NotContains(t, f.columnNames(storage.TableEdges), "original_object")

	_, err = f.engine.Normalize(context.Background(), config.NormalizeConfig{})
	require.Error(t, err)
	assert.True(t, kgxerr.IsConfig(err))
}

func TestNormalizeWithoutEdges(t *testing.T) {
	f := newFixture(t)
	f.join([]config.FileSpec{f.file("nodes.tsv", "id\nA:1\n")}, nil)
	mapping := f.file("m.sssom.tsv", sssomHeader+"B:1\tskos:exactMatch\tA:1\tsemapv:ManualMappingCuration\n")

	res, err := f.engine.Normalize(context.Background(), config.NormalizeConfig{MappingFiles: []config.FileSpec{mapping}})
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "no edges table to normalize")
	assert.Equal(t, int64(1), res.Mappings)
}
