// Package storage defines the relational store the graph engine runs on.
//
// The engine never speaks a query language directly; it depends on the
// small set of relational primitives declared by Store (name-based union,
// grouped first-row selection, anti-join moves and lookup rewrites), so any
// embeddable engine able to implement them can back it. Backends register
// themselves with Register in an init function, mirroring database/sql
// drivers, and callers select one by name through Open.
package storage

import (
	"context"

	"kgxops/internal/schema"
)

// Well-known table names shared by the engine and its collaborators.
const (
	TableNodes             = "nodes"
	TableEdges             = "edges"
	TableMappings          = "mappings"
	TableDuplicateNodes    = "duplicate_nodes"
	TableDuplicateEdges    = "duplicate_edges"
	TableDuplicateMappings = "duplicate_mappings"
	TableDanglingEdges     = "dangling_edges"
	TableSingletonNodes    = "singleton_nodes"
	TableSmallCompNodes    = "small_component_nodes"
	TableSmallCompEdges    = "small_component_edges"
	TableFileSchemas       = "file_schemas"
)

// Row is a single record keyed by column name. Null values are nil; array
// columns hold []string.
type Row map[string]any

// Store is a table store holding named tables of typed, nullable columns.
//
// Implementations must apply every mutating method atomically: either all of
// its effects are visible afterwards or none are. Atomic extends that
// guarantee over a sequence of calls.
type Store interface {
	// Tables lists user tables in name order.
	Tables(ctx context.Context) ([]string, error)
	HasTable(ctx context.Context, table string) (bool, error)
	// Columns returns the table's columns in definition order.
	Columns(ctx context.Context, table string) ([]schema.Column, error)
	Count(ctx context.Context, table string) (int64, error)

	CreateTable(ctx context.Context, table string, cols []schema.Column) error
	// AddColumns adds the columns absent from table; existing rows read null
	// for them. It returns the columns actually added.
	AddColumns(ctx context.Context, table string, cols []schema.Column) ([]schema.Column, error)
	DropTable(ctx context.Context, table string) error

	// Insert appends rows aligned to cols and returns the number inserted.
	Insert(ctx context.Context, table string, cols []string, rows [][]any) (int64, error)
	// Scan streams rows in insertion order. A nil cols selects every column.
	Scan(ctx context.Context, table string, cols []string, fn func(Row) error) error

	UnionByName(ctx context.Context, dst string, srcs ...string) (UnionResult, error)
	GroupFirst(ctx context.Context, spec GroupFirst) (GroupResult, error)
	AntiJoin(ctx context.Context, spec AntiJoin) (AntiJoinResult, error)
	Remap(ctx context.Context, spec Remap) (RemapResult, error)
	MoveByKeys(ctx context.Context, spec MoveByKeys) (int64, error)

	// Atomic runs fn against a Store bound to a single transaction. If fn
	// returns an error every mutation made through that Store is discarded.
	Atomic(ctx context.Context, fn func(Store) error) error

	// Size reports the on-disk size in bytes, or 0 for in-memory stores.
	Size() int64
	ReadOnly() bool
	Close() error
}

// UnionResult describes the effect of UnionByName on its destination.
type UnionResult struct {
	Created      bool
	Rows         int64
	AddedColumns []schema.Column
	Conflicts    []schema.Conflict
}

// GroupFirst keeps one row per key in Table and copies every row of each
// colliding key into Archive.
type GroupFirst struct {
	Table   string
	Archive string

	// Key names the key columns. When FallbackKey is set, rows whose Key
	// columns are null are keyed by FallbackKey instead. Rows null under both
	// never collide.
	Key         []string
	FallbackKey []string

	// OrderBy lists tie-break columns, ascending; columns missing from the
	// table are skipped. Insertion order is always the final tie-break.
	OrderBy []string
}

// GroupResult reports what GroupFirst did.
type GroupResult struct {
	// Keys is the number of distinct keys that had more than one row.
	Keys int64
	// Archived is the number of rows copied to the archive table.
	Archived int64
	// Removed is the number of rows deleted from the live table.
	Removed int64
}

// MatchMode selects how probe results combine in AntiJoin.
type MatchMode int

const (
	// AnyUnmatched moves a row when at least one probe fails to resolve.
	AnyUnmatched MatchMode = iota
	// AllUnmatched moves a row only when no probe resolves.
	AllUnmatched
)

// Probe resolves Column of the scanned table against RefColumn of RefTable.
type Probe struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
}

// AntiJoin moves the rows of Table whose probes do not resolve into Archive.
type AntiJoin struct {
	Table   string
	Archive string
	Probes  []Probe
	Mode    MatchMode

	// TagColumn, when set, is added to Archive and receives the
	// comma-separated names of the probes that failed.
	TagColumn string

	// GroupBy, when set, breaks the moved rows down by this column.
	GroupBy string

	// CountOnly reports the unresolved rows without moving them.
	CountOnly bool
}

// AntiJoinResult reports the moved rows.
type AntiJoinResult struct {
	// Moved counts unresolved rows; with CountOnly they stay in place.
	Moved int64
	// ByGroup counts moved rows per GroupBy value ("unknown" for null).
	ByGroup map[string]int64
	// MissingByGroup counts distinct unresolved values per GroupBy value.
	MissingByGroup map[string]int64
}

// Remap rewrites Columns of Table through a lookup table: a value equal to
// Lookup.LookupKey is replaced by Lookup.LookupValue. When Preserve is set
// the value before the first rewrite is kept in "original_<column>".
type Remap struct {
	Table       string
	Columns     []string
	Lookup      string
	LookupKey   string
	LookupValue string
	Preserve    bool
}

// RemapResult reports rewritten rows.
type RemapResult struct {
	// Rows is the number of rows in which at least one column changed.
	Rows int64
	// ByColumn counts changed values per column.
	ByColumn map[string]int64
}

// MoveByKeys moves rows of Table whose Column value is in Keys to Archive.
type MoveByKeys struct {
	Table   string
	Archive string
	Column  string
	Keys    []string
}

// OriginalColumn names the column holding pre-rewrite values for col.
func OriginalColumn(col string) string { return "original_" + col }
