package pipeline

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

// maxLine bounds one JSON-lines record.
const maxLine = 16 << 20

// ReadRecords decodes r in the given source format. CSV reads a header
// row; empty cells are absent fields. JSON accepts an array of objects or
// a single object. JSON-lines skips blank lines.
func ReadRecords(r io.Reader, src config.Source) iter.Seq2[ir.Record, error] {
	switch src.Format {
	case config.FormatJSON:
		return readJSON(r)
	case config.FormatJSONL:
		return readJSONL(r)
	case config.FormatCSV, "":
		return readCSV(r, delimiter(src))
	default:
		return func(yield func(ir.Record, error) bool) {
			yield(ir.Record{}, errors.Mark(errors.Newf("source %s: unsupported format %q", src.Name, src.Format), errors.ErrConfig))
		}
	}
}

// delimiter reads the optional data.delimiter of a source.
func delimiter(src config.Source) rune {
	if d, ok := src.Data["delimiter"].(string); ok {
		if r, size := utf8.DecodeRuneInString(d); size == len(d) && r != utf8.RuneError {
			return r
		}
	}
	return ','
}

func readCSV(r io.Reader, comma rune) iter.Seq2[ir.Record, error] {
	return func(yield func(ir.Record, error) bool) {
		cr := csv.NewReader(r)
		cr.Comma = comma
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = true

		header, err := cr.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(ir.Record{}, errors.Wrap(err, "read csv header"))
			return
		}
		header = append([]string(nil), header...)
		if len(header) > 0 {
			header[0] = strings.TrimPrefix(header[0], "\ufeff")
		}

		for {
			row, err := cr.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(ir.Record{}, errors.Wrap(err, "read csv"))
				return
			}
			values := make(map[string]any, len(header))
			for i, cell := range row {
				if i >= len(header) || cell == "" {
					continue
				}
				values[header[i]] = cell
			}
			if !yield(ir.NewRecord(header, values), nil) {
				return
			}
		}
	}
}

func readJSON(r io.Reader) iter.Seq2[ir.Record, error] {
	return func(yield func(ir.Record, error) bool) {
		br := bufio.NewReader(r)
		first, err := peekNonSpace(br)
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(ir.Record{}, errors.Wrap(err, "read json"))
			return
		}
		dec := json.NewDecoder(br)
		dec.UseNumber()

		switch first {
		case '{':
			var rec ir.Record
			if err := dec.Decode(&rec); err != nil {
				yield(ir.Record{}, errors.Wrap(err, "read json"))
				return
			}
			yield(rec, nil)
		case '[':
			if _, err := dec.Token(); err != nil {
				yield(ir.Record{}, errors.Wrap(err, "read json"))
				return
			}
			for dec.More() {
				var rec ir.Record
				if err := dec.Decode(&rec); err != nil {
					yield(ir.Record{}, errors.Wrap(err, "read json"))
					return
				}
				if !yield(rec, nil) {
					return
				}
			}
		default:
			yield(ir.Record{}, errors.Newf("read json: expected object or array, got %q", first))
		}
	}
}

// peekNonSpace skips leading whitespace and returns the next byte unread.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\n', '\r':
			br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

func readJSONL(r io.Reader) iter.Seq2[ir.Record, error] {
	return func(yield func(ir.Record, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxLine)
		line := 0
		for sc.Scan() {
			line++
			data := bytes.TrimSpace(sc.Bytes())
			if len(data) == 0 {
				continue
			}
			var rec ir.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				yield(ir.Record{}, errors.Wrapf(err, "read jsonl line %d", line))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(ir.Record{}, errors.Wrap(err, "read jsonl"))
		}
	}
}
