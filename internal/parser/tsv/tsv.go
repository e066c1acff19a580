// Package tsv parses delimited KGX and SSSOM files.
//
// Every column is read as text unless its type is declared. Lines starting
// with '#' before the header are metadata (SSSOM puts its YAML block there);
// after the header every line is data. Tab-delimited files are split on the
// tab alone, quotes included, while comma-delimited files follow CSV quoting.
// Empty fields are null, and multivalued columns are split on the list
// delimiter.
package tsv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/parser"
	"kgxops/internal/schema"

	"golang.org/x/text/unicode/norm"
)

const utf8BOM = "\uFEFF"

// Parser reads delimited text.
type Parser struct {
	opts parser.Options
}

var _ parser.Parser = (*Parser)(nil)

func New(opts parser.Options) *Parser {
	if opts.Comma == 0 {
		opts.Comma = '\t'
	}
	return &Parser{opts: opts}
}

// NormalizeHeader trims a header cell, strips a BOM and applies Unicode NFC
// so that visually identical names from different files compare equal.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, utf8BOM)
	return norm.NFC.String(strings.TrimSpace(h))
}

func (p *Parser) Parse(ctx context.Context, r io.Reader) (*parser.Table, error) {
	br := bufio.NewReader(r)
	skipped, err := skipMetadata(br)
	if err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeInputFileMalformed, "tsv: read metadata")
	}

	var rr recordReader
	if p.opts.Comma == '\t' {
		rr = &lineReader{r: br, sep: "\t", line: skipped}
	} else {
		cr := csv.NewReader(br)
		cr.Comma = p.opts.Comma
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = true
		rr = &csvReader{r: cr, offset: skipped}
	}

	hdr, _, err := rr.next()
	if errors.Is(err, io.EOF) {
		return nil, kgxerr.New(kgxerr.CodeInputFileMalformed, "tsv: missing header")
	}
	if err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeInputFileMalformed, "tsv: read header")
	}

	b := parser.NewBuilder(p.opts)
	names := make([]string, len(hdr))
	seen := make(map[string]struct{}, len(hdr))
	for i, h := range hdr {
		name := NormalizeHeader(h)
		if name == "" {
			return nil, kgxerr.Errorf(kgxerr.CodeInputFileMalformed, "tsv: empty header in column %d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, kgxerr.Errorf(kgxerr.CodeInputFileMalformed, "tsv: duplicate header %q", name)
		}
		seen[name] = struct{}{}
		names[i] = name
		b.Column(name)
	}

	fields := make([]parser.Field, 0, len(names))
	for {
		rec, line, err := rr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, kgxerr.Wrap(err, kgxerr.CodeInputFileMalformed, "tsv: read record")
		}
		if len(rec) > len(names) {
			return nil, kgxerr.Errorf(kgxerr.CodeInputFileMalformed,
				"tsv: line %d has %d fields, header has %d", line, len(rec), len(names))
		}
		if b.Len()%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		fields = fields[:0]
		for i, raw := range rec {
			f, err := p.field(names[i], raw)
			if err != nil {
				return nil, kgxerr.Wrapf(err, kgxerr.CodeInputFileMalformed, "tsv: line %d column %s", line, names[i])
			}
			fields = append(fields, f)
		}
		b.Add(fields)
	}
	return b.Table(), nil
}

// skipMetadata consumes the '#' lines that precede the header and returns
// how many it read.
func skipMetadata(br *bufio.Reader) (int, error) {
	n := 0
	for {
		head, err := br.Peek(len(utf8BOM) + 1)
		if len(head) == 0 {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if !strings.HasPrefix(strings.TrimPrefix(string(head), utf8BOM), "#") {
			return n, nil
		}
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return n + 1, nil
			}
			return n, err
		}
		n++
	}
}

// recordReader yields the fields of the next non-empty record and its
// 1-based line number.
type recordReader interface {
	next() ([]string, int, error)
}

// lineReader splits each line on sep. Quotes are ordinary characters.
type lineReader struct {
	r    *bufio.Reader
	sep  string
	line int
}

func (l *lineReader) next() ([]string, int, error) {
	for {
		s, err := l.r.ReadString('\n')
		if s == "" && err != nil {
			return nil, l.line, err
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, l.line, err
		}
		l.line++
		s = strings.TrimRight(s, "\r\n")
		if s == "" {
			continue
		}
		return strings.Split(s, l.sep), l.line, nil
	}
}

type csvReader struct {
	r      *csv.Reader
	offset int
}

func (c *csvReader) next() ([]string, int, error) {
	rec, err := c.r.Read()
	if err != nil {
		return nil, 0, err
	}
	line, _ := c.r.FieldPos(0)
	return rec, line + c.offset, nil
}

func (p *Parser) field(name, raw string) (parser.Field, error) {
	f := parser.Field{Name: name}
	if raw == "" {
		return f, nil
	}
	declared, isDeclared := p.opts.Types[name]
	if (isDeclared && declared.IsArray()) || (!isDeclared && p.opts.Multivalued.IsArray(name)) {
		f.Value, f.Type = splitList(raw, p.opts.ListDelim()), schema.StringArray
		return f, nil
	}
	if !isDeclared {
		f.Value, f.Type = raw, schema.String
		return f, nil
	}

	f.Type = declared
	switch declared {
	case schema.Integer:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return f, err
		}
		f.Value = v
	case schema.Float:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return f, err
		}
		f.Value = v
	case schema.Boolean:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return f, err
		}
		f.Value = v
	default:
		f.Value, f.Type = raw, schema.String
	}
	return f, nil
}

func splitList(raw, delim string) []string {
	parts := strings.Split(raw, delim)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
