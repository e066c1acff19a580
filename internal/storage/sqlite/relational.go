package sqlite

import (
	"context"
	"fmt"
	"strings"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/schema"
	"kgxops/internal/storage"
)

const (
	tmpGroup = "_kgx_group"
	tmpMoves = "_kgx_moves"
	tmpKeys  = "_kgx_keys"
)

func (s *Store) dropTemp(ctx context.Context, name string) error {
	_, err := s.exec(ctx, "DROP TABLE IF EXISTS temp."+quoteIdent(name))
	return err
}

// ensureArchive creates archive with cols or adds the columns it lacks, and
// returns the archive's resulting columns.
func (s *Store) ensureArchive(ctx context.Context, archive string, cols []schema.Column) ([]schema.Column, error) {
	ok, err := s.HasTable(ctx, archive)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(archive), columnDefs(cols))); err != nil {
			return nil, err
		}
	} else if _, err := s.addColumns(ctx, archive, cols); err != nil {
		return nil, err
	}
	return s.Columns(ctx, archive)
}

// copyExprs lists the insert columns and select expressions that copy cols of
// a source into a destination with dstCols.
func copyExprs(cols []schema.Column, dstCols []schema.Column) (names []string, exprs []string) {
	for _, c := range cols {
		to := c.Type
		if d, ok := schema.Lookup(dstCols, c.Name); ok {
			to = d.Type
		}
		names = append(names, c.Name)
		exprs = append(exprs, convertExpr(c.Name, c.Type, to))
	}
	return names, exprs
}

func (s *Store) ensureIndex(ctx context.Context, table, col string) error {
	name := fmt.Sprintf("idx_%s_%s", table, col)
	_, err := s.exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name), quoteIdent(table), quoteIdent(col)))
	return err
}

// UnionByName appends every source table into dst by column name. A missing
// dst is created with the widened union of the sources. An existing dst
// gains the columns it lacks but keeps the types of the columns it has;
// incoming values of a wider type are stored as they are and reported as a
// conflict.
func (s *Store) UnionByName(ctx context.Context, dst string, srcs ...string) (storage.UnionResult, error) {
	var res storage.UnionResult
	err := s.mutate(ctx, "union_by_name", func(t *Store) error {
		var sets [][]schema.Column
		existing, err := t.HasTable(ctx, dst)
		if err != nil {
			return err
		}
		var dstCols []schema.Column
		if existing {
			if dstCols, err = t.Columns(ctx, dst); err != nil {
				return err
			}
			sets = append(sets, dstCols)
		}
		srcCols := make([][]schema.Column, len(srcs))
		for i, src := range srcs {
			if srcCols[i], err = t.Columns(ctx, src); err != nil {
				return err
			}
			sets = append(sets, srcCols[i])
		}

		union, conflicts := schema.Union(sets...)
		if !existing {
			if len(union) == 0 {
				return kgxerr.New(kgxerr.CodeStoreTableNotFound, "sqlite: union without sources", kgxerr.FieldTable(dst))
			}
			if _, err := t.exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(dst), columnDefs(union))); err != nil {
				return err
			}
			res.Created = true
		} else {
			if res.AddedColumns, err = t.addColumns(ctx, dst, union); err != nil {
				return err
			}
			for i := range conflicts {
				if c, ok := schema.Lookup(dstCols, conflicts[i].Column); ok {
					conflicts[i].Result = c.Type
				}
			}
		}
		res.Conflicts = conflicts

		if dstCols, err = t.Columns(ctx, dst); err != nil {
			return err
		}
		for i, src := range srcs {
			names, exprs := copyExprs(srcCols[i], dstCols)
			n, err := t.exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ORDER BY rowid",
				quoteIdent(dst), quoteList(names), strings.Join(exprs, ", "), quoteIdent(src)))
			if err != nil {
				return err
			}
			res.Rows += n
		}
		return nil
	})
	if err != nil {
		return storage.UnionResult{}, err
	}
	return res, nil
}

func (s *Store) orderTerms(table string, cols []schema.Column, orderBy []string) string {
	var terms []string
	for _, name := range orderBy {
		if schema.Has(cols, name) {
			terms = append(terms, qualified(table, name)+" ASC NULLS LAST")
		}
	}
	terms = append(terms, quoteIdent(table)+".rowid ASC")
	return strings.Join(terms, ", ")
}

func groupKeyExpr(table string, key, fallback []string) string {
	primary := keyExpr(table, key)
	if len(fallback) == 0 {
		return primary
	}
	return fmt.Sprintf("COALESCE('k' || %s, 'f' || %s)", primary, keyExpr(table, fallback))
}

// GroupFirst implements storage.Store.GroupFirst. Within each colliding key
// the row ranked first by OrderBy stays live; every row of the key is
// copied to Archive.
func (s *Store) GroupFirst(ctx context.Context, spec storage.GroupFirst) (storage.GroupResult, error) {
	var res storage.GroupResult
	if len(spec.Key) == 0 {
		return res, kgxerr.New(kgxerr.CodeStoreDatabaseFailure, "sqlite: group without key", kgxerr.FieldTable(spec.Table))
	}
	err := s.mutate(ctx, "group_first", func(t *Store) error {
		cols, err := t.Columns(ctx, spec.Table)
		if err != nil {
			return err
		}
		for _, k := range append(append([]string{}, spec.Key...), spec.FallbackKey...) {
			if !schema.Has(cols, k) {
				return kgxerr.New(kgxerr.CodeStoreTableNotFound, "sqlite: no such key column",
					kgxerr.FieldTable(spec.Table), kgxerr.Field("column", k))
			}
		}

		if err := t.dropTemp(ctx, tmpGroup); err != nil {
			return err
		}
		key := groupKeyExpr(spec.Table, spec.Key, spec.FallbackKey)
		create := fmt.Sprintf(`CREATE TEMP TABLE %[1]s AS
SELECT rid, k, rn FROM (
  SELECT %[2]s.rowid AS rid, %[3]s AS k,
    ROW_NUMBER() OVER (PARTITION BY %[3]s ORDER BY %[4]s) AS rn,
    COUNT(*) OVER (PARTITION BY %[3]s) AS cnt
  FROM %[2]s
) WHERE k IS NOT NULL AND cnt > 1`,
			quoteIdent(tmpGroup), quoteIdent(spec.Table), key, t.orderTerms(spec.Table, cols, spec.OrderBy))
		if _, err := t.exec(ctx, create); err != nil {
			return err
		}
		defer t.dropTemp(ctx, tmpGroup)

		if err := t.q.QueryRowContext(ctx,
			"SELECT COUNT(DISTINCT k) FROM temp."+quoteIdent(tmpGroup)).Scan(&res.Keys); err != nil {
			return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: count keys", kgxerr.FieldTable(spec.Table))
		}
		if res.Keys == 0 {
			return nil
		}

		archiveCols, err := t.ensureArchive(ctx, spec.Archive, cols)
		if err != nil {
			return err
		}
		names, exprs := copyExprs(cols, archiveCols)
		if res.Archived, err = t.exec(ctx, fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s WHERE rowid IN (SELECT rid FROM temp.%s) ORDER BY rowid",
			quoteIdent(spec.Archive), quoteList(names), strings.Join(exprs, ", "),
			quoteIdent(spec.Table), quoteIdent(tmpGroup))); err != nil {
			return err
		}
		res.Removed, err = t.exec(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE rowid IN (SELECT rid FROM temp.%s WHERE rn > 1)",
			quoteIdent(spec.Table), quoteIdent(tmpGroup)))
		return err
	})
	if err != nil {
		return storage.GroupResult{}, err
	}
	return res, nil
}

// unresolvedExpr is true when the probe's column has no match in its
// reference table. A missing reference table or column resolves nothing.
func (s *Store) unresolvedExpr(ctx context.Context, table string, p storage.Probe) (string, error) {
	refCols, err := s.Columns(ctx, p.RefTable)
	if err != nil {
		if kgxerr.HasCode(err, kgxerr.CodeStoreTableNotFound) {
			return "1", nil
		}
		return "", err
	}
	if !schema.Has(refCols, p.RefColumn) {
		return "1", nil
	}
	if err := s.ensureIndex(ctx, p.RefTable, p.RefColumn); err != nil {
		return "", err
	}
	col := qualified(table, p.Column)
	return fmt.Sprintf("(%[1]s IS NULL OR NOT EXISTS (SELECT 1 FROM %[2]s AS _r WHERE _r.%[3]s = %[1]s))",
		col, quoteIdent(p.RefTable), quoteIdent(p.RefColumn)), nil
}

// AntiJoin implements storage.Store.AntiJoin.
func (s *Store) AntiJoin(ctx context.Context, spec storage.AntiJoin) (storage.AntiJoinResult, error) {
	res := storage.AntiJoinResult{}
	if len(spec.Probes) == 0 {
		return res, kgxerr.New(kgxerr.CodeStoreDatabaseFailure, "sqlite: anti-join without probes", kgxerr.FieldTable(spec.Table))
	}
	err := s.mutate(ctx, "anti_join", func(t *Store) error {
		cols, err := t.Columns(ctx, spec.Table)
		if err != nil {
			return err
		}

		conds := make([]string, len(spec.Probes))
		tags := make([]string, len(spec.Probes))
		vals := make([]string, len(spec.Probes))
		for i, p := range spec.Probes {
			if !schema.Has(cols, p.Column) {
				return kgxerr.New(kgxerr.CodeStoreTableNotFound, "sqlite: no such probe column",
					kgxerr.FieldTable(spec.Table), kgxerr.Field("column", p.Column))
			}
			if conds[i], err = t.unresolvedExpr(ctx, spec.Table, p); err != nil {
				return err
			}
			name := p.Name
			if name == "" {
				name = p.Column
			}
			tags[i] = fmt.Sprintf("CASE WHEN %s THEN %s ELSE '' END", conds[i], quoteString(","+name))
			vals[i] = fmt.Sprintf("CASE WHEN %s THEN CAST(%s AS TEXT) END AS v%d",
				conds[i], qualified(spec.Table, p.Column), i)
		}
		joiner := " OR "
		if spec.Mode == storage.AllUnmatched {
			joiner = " AND "
		}
		groupExpr := "'unknown'"
		if spec.GroupBy != "" && schema.Has(cols, spec.GroupBy) {
			groupExpr = fmt.Sprintf("COALESCE(CAST(%s AS TEXT), 'unknown')", qualified(spec.Table, spec.GroupBy))
		}

		if err := t.dropTemp(ctx, tmpMoves); err != nil {
			return err
		}
		create := fmt.Sprintf(`CREATE TEMP TABLE %s AS
SELECT %s.rowid AS rid, TRIM(%s, ',') AS tag, %s AS grp, %s
FROM %s WHERE %s`,
			quoteIdent(tmpMoves), quoteIdent(spec.Table), strings.Join(tags, " || "), groupExpr,
			strings.Join(vals, ", "), quoteIdent(spec.Table), strings.Join(conds, joiner))
		if _, err := t.exec(ctx, create); err != nil {
			return err
		}
		defer t.dropTemp(ctx, tmpMoves)

		if err := t.q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM temp."+quoteIdent(tmpMoves)).Scan(&res.Moved); err != nil {
			return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: count moves", kgxerr.FieldTable(spec.Table))
		}
		if res.Moved == 0 {
			return nil
		}

		if spec.GroupBy != "" {
			if res.ByGroup, err = t.groupCounts(ctx,
				"SELECT grp, COUNT(*) FROM temp."+quoteIdent(tmpMoves)+" GROUP BY grp"); err != nil {
				return err
			}
			parts := make([]string, len(spec.Probes))
			for i := range spec.Probes {
				parts[i] = fmt.Sprintf("SELECT grp, v%d AS v FROM temp.%s", i, quoteIdent(tmpMoves))
			}
			if res.MissingByGroup, err = t.groupCounts(ctx, fmt.Sprintf(
				"SELECT grp, COUNT(DISTINCT v) FROM (%s) WHERE v IS NOT NULL GROUP BY grp",
				strings.Join(parts, " UNION ALL "))); err != nil {
				return err
			}
		}

		if spec.CountOnly {
			return nil
		}

		archiveWant := cols
		if spec.TagColumn != "" && !schema.Has(cols, spec.TagColumn) {
			archiveWant = append(append([]schema.Column{}, cols...), schema.Column{Name: spec.TagColumn, Type: schema.String})
		}
		archiveCols, err := t.ensureArchive(ctx, spec.Archive, archiveWant)
		if err != nil {
			return err
		}
		names, exprs := copyExprs(cols, archiveCols)
		if spec.TagColumn != "" && !schema.Has(cols, spec.TagColumn) {
			names = append(names, spec.TagColumn)
			exprs = append(exprs, fmt.Sprintf("(SELECT m.tag FROM temp.%s AS m WHERE m.rid = %s.rowid)",
				quoteIdent(tmpMoves), quoteIdent(spec.Table)))
		}
		if _, err := t.exec(ctx, fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s WHERE rowid IN (SELECT rid FROM temp.%s) ORDER BY rowid",
			quoteIdent(spec.Archive), quoteList(names), strings.Join(exprs, ", "),
			quoteIdent(spec.Table), quoteIdent(tmpMoves))); err != nil {
			return err
		}
		_, err = t.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid IN (SELECT rid FROM temp.%s)",
			quoteIdent(spec.Table), quoteIdent(tmpMoves)))
		return err
	})
	if err != nil {
		return storage.AntiJoinResult{}, err
	}
	return res, nil
}

func (s *Store) groupCounts(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: group counts")
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var (
			k string
			n int64
		)
		if err := rows.Scan(&k, &n); err != nil {
			return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: group counts")
		}
		out[k] = n
	}
	return out, rows.Err()
}

// Remap implements storage.Store.Remap. Each value is looked up once; the
// rewrite is not transitive.
func (s *Store) Remap(ctx context.Context, spec storage.Remap) (storage.RemapResult, error) {
	res := storage.RemapResult{ByColumn: map[string]int64{}}
	err := s.mutate(ctx, "remap", func(t *Store) error {
		cols, err := t.Columns(ctx, spec.Table)
		if err != nil {
			return err
		}
		lookupCols, err := t.Columns(ctx, spec.Lookup)
		if err != nil {
			return err
		}
		if !schema.Has(lookupCols, spec.LookupKey, spec.LookupValue) {
			return kgxerr.New(kgxerr.CodeStoreTableNotFound, "sqlite: lookup table lacks key or value column",
				kgxerr.FieldTable(spec.Lookup))
		}
		if err := t.ensureIndex(ctx, spec.Lookup, spec.LookupKey); err != nil {
			return err
		}

		var (
			sets    []string
			changed []string
		)
		for _, name := range spec.Columns {
			c, ok := schema.Lookup(cols, name)
			if !ok {
				continue
			}
			col := qualified(spec.Table, name)
			sub := fmt.Sprintf("(SELECT _l.%s FROM %s AS _l WHERE _l.%s = %s LIMIT 1)",
				quoteIdent(spec.LookupValue), quoteIdent(spec.Lookup), quoteIdent(spec.LookupKey), col)
			cond := fmt.Sprintf("(%[1]s IS NOT NULL AND %[1]s IS NOT %[2]s)", sub, col)

			var n int64
			if err := t.q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s",
				quoteIdent(spec.Table), cond)).Scan(&n); err != nil {
				return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: count remap", kgxerr.FieldTable(spec.Table))
			}
			res.ByColumn[name] = n

			if spec.Preserve {
				orig := storage.OriginalColumn(name)
				if _, err := t.addColumns(ctx, spec.Table, []schema.Column{{Name: orig, Type: c.Type}}); err != nil {
					return err
				}
				sets = append(sets, fmt.Sprintf("%[1]s = CASE WHEN %[1]s IS NULL AND %[2]s THEN %[3]s ELSE %[1]s END",
					quoteIdent(orig), cond, col))
			}
			sets = append(sets, fmt.Sprintf("%s = CASE WHEN %s THEN %s ELSE %s END", quoteIdent(name), cond, sub, col))
			changed = append(changed, cond)
		}
		if len(changed) == 0 {
			return nil
		}

		if err := t.q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s",
			quoteIdent(spec.Table), strings.Join(changed, " OR "))).Scan(&res.Rows); err != nil {
			return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: count remap", kgxerr.FieldTable(spec.Table))
		}
		if res.Rows == 0 {
			return nil
		}
		_, err = t.exec(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			quoteIdent(spec.Table), strings.Join(sets, ", "), strings.Join(changed, " OR ")))
		return err
	})
	if err != nil {
		return storage.RemapResult{}, err
	}
	return res, nil
}

// MoveByKeys implements storage.Store.MoveByKeys. Values are compared as
// text.
func (s *Store) MoveByKeys(ctx context.Context, spec storage.MoveByKeys) (int64, error) {
	if len(spec.Keys) == 0 {
		return 0, nil
	}
	var moved int64
	err := s.mutate(ctx, "move_by_keys", func(t *Store) error {
		cols, err := t.Columns(ctx, spec.Table)
		if err != nil {
			return err
		}
		if !schema.Has(cols, spec.Column) {
			return kgxerr.New(kgxerr.CodeStoreTableNotFound, "sqlite: no such column",
				kgxerr.FieldTable(spec.Table), kgxerr.Field("column", spec.Column))
		}
		if err := t.dropTemp(ctx, tmpKeys); err != nil {
			return err
		}
		if _, err := t.exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (k TEXT PRIMARY KEY) WITHOUT ROWID",
			quoteIdent(tmpKeys))); err != nil {
			return err
		}
		defer t.dropTemp(ctx, tmpKeys)

		stmt, err := t.q.PrepareContext(ctx, fmt.Sprintf("INSERT OR IGNORE INTO temp.%s (k) VALUES (?)", quoteIdent(tmpKeys)))
		if err != nil {
			return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: prepare keys")
		}
		for _, k := range spec.Keys {
			if _, err := stmt.ExecContext(ctx, k); err != nil {
				stmt.Close()
				return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: insert keys")
			}
		}
		stmt.Close()

		where := fmt.Sprintf("CAST(%s AS TEXT) IN (SELECT k FROM temp.%s)", quoteIdent(spec.Column), quoteIdent(tmpKeys))
		if err := t.q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s",
			quoteIdent(spec.Table), where)).Scan(&moved); err != nil {
			return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: count keys", kgxerr.FieldTable(spec.Table))
		}
		if moved == 0 {
			return nil
		}
		archiveCols, err := t.ensureArchive(ctx, spec.Archive, cols)
		if err != nil {
			return err
		}
		names, exprs := copyExprs(cols, archiveCols)
		if _, err := t.exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s ORDER BY rowid",
			quoteIdent(spec.Archive), quoteList(names), strings.Join(exprs, ", "),
			quoteIdent(spec.Table), where)); err != nil {
			return err
		}
		_, err = t.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(spec.Table), where))
		return err
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}
