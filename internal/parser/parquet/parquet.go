// Package parquet reads columnar Parquet files using the schema embedded in
// the file. Repeated leaves become string arrays; nested fields are flattened
// into dotted column names.
package parquet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/parser"
	"kgxops/internal/schema"

	pq "github.com/parquet-go/parquet-go"
)

const batchSize = 256

type Parser struct {
	opts parser.Options
}

var _ parser.Parser = (*Parser)(nil)

func New(opts parser.Options) *Parser { return &Parser{opts: opts} }

type leaf struct {
	name     string
	kind     pq.Kind
	repeated bool
}

// Parse buffers r in memory because the Parquet footer sits at the end of
// the file.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*parser.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeInputFileUnreadable, "parquet: read")
	}
	f, err := pq.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeInputFileMalformed, "parquet: open")
	}

	leaves, err := p.leaves(f.Schema())
	if err != nil {
		return nil, err
	}
	b := parser.NewBuilder(p.opts)
	for _, l := range leaves {
		b.Column(l.name)
	}

	buf := make([]pq.Row, batchSize)
	for _, rg := range f.RowGroups() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.readGroup(rg, leaves, b, buf); err != nil {
			return nil, err
		}
	}
	return b.Table(), nil
}

func (p *Parser) leaves(s *pq.Schema) ([]leaf, error) {
	paths := s.Columns()
	out := make([]leaf, len(paths))
	for _, path := range paths {
		lc, ok := s.Lookup(path...)
		if !ok {
			return nil, kgxerr.Errorf(kgxerr.CodeInputFileMalformed, "parquet: column %s not in schema", strings.Join(path, "."))
		}
		l := leaf{kind: lc.Node.Type().Kind(), repeated: lc.MaxRepetitionLevel > 0}
		switch {
		case len(path) == 1 || l.repeated:
			// LIST groups spell their leaf as <name>.list.element.
			l.name = path[0]
		default:
			l.name = strings.Join(path, ".")
		}
		out[lc.ColumnIndex] = l
	}
	return out, nil
}

func (p *Parser) readGroup(rg pq.RowGroup, leaves []leaf, b *parser.Builder, buf []pq.Row) error {
	rows := rg.Rows()
	defer rows.Close()

	fields := make([]parser.Field, len(leaves))
	lists := make([][]string, len(leaves))
	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			for i, l := range leaves {
				fields[i] = parser.Field{Name: l.name}
				lists[i] = nil
			}
			for _, v := range row {
				c := v.Column()
				if c < 0 || c >= len(leaves) || v.IsNull() {
					continue
				}
				val, t := convert(v, leaves[c].kind)
				if leaves[c].repeated {
					lists[c] = append(lists[c], schema.Stringify(val))
					continue
				}
				fields[c].Value, fields[c].Type = val, t
			}
			for i, l := range leaves {
				if l.repeated && lists[i] != nil {
					fields[i].Value, fields[i].Type = lists[i], schema.StringArray
				}
			}
			b.Add(fields)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return kgxerr.Wrap(err, kgxerr.CodeInputFileMalformed, "parquet: read rows")
		}
	}
}

func convert(v pq.Value, kind pq.Kind) (any, schema.Type) {
	switch kind {
	case pq.Boolean:
		return v.Boolean(), schema.Boolean
	case pq.Int32:
		return int64(v.Int32()), schema.Integer
	case pq.Int64:
		return v.Int64(), schema.Integer
	case pq.Float:
		return float64(v.Float()), schema.Float
	case pq.Double:
		return v.Double(), schema.Float
	case pq.ByteArray, pq.FixedLenByteArray:
		return string(v.ByteArray()), schema.String
	default:
		return v.String(), schema.String
	}
}
