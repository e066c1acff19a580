// Package jsonl parses newline-delimited JSON objects.
//
// Column types follow the JSON value shapes and widen across rows; nested
// objects are kept as JSON text and arrays become string arrays. Key order of
// the first object that mentions a key decides the column order.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/parser"
	"kgxops/internal/schema"
)

const maxLine = 64 << 20

type Parser struct {
	opts parser.Options
}

var _ parser.Parser = (*Parser)(nil)

func New(opts parser.Options) *Parser { return &Parser{opts: opts} }

func (p *Parser) Parse(ctx context.Context, r io.Reader) (*parser.Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	b := parser.NewBuilder(p.opts)
	line := 0
	var fields []parser.Field
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var err error
		fields, err = decodeObject(raw, fields[:0])
		if err != nil {
			return nil, kgxerr.Wrapf(err, kgxerr.CodeInputFileMalformed, "jsonl: line %d", line)
		}
		b.Add(fields)
	}
	if err := sc.Err(); err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeInputFileUnreadable, "jsonl: read")
	}
	return b.Table(), nil
}

// decodeObject reads one JSON object keeping its key order.
func decodeObject(raw []byte, dst []parser.Field) ([]parser.Field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected an object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		value, t := schema.InferValue(v)
		dst = append(dst, parser.Field{Name: key, Value: value, Type: t})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after object")
	}
	return dst, nil
}
