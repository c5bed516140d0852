package pipeline

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"churnrisk/errs"
)

// Table is an uploaded delimited file: its header and one raw record per row.
type Table struct {
	Header []string
	Rows   []RawRecord
}

// ReadOptions controls table decoding.
type ReadOptions struct {
	// Delimiter is the field separator; zero detects it from the header line.
	Delimiter rune
	// Charset names the input encoding (e.g. "windows-1252", "gbk"). Empty
	// means UTF-8. A byte order mark always wins.
	Charset string
}

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// ReadTable parses a delimited file with a header row. Blank header cells
// become "Unnamed: i" and repeated names get a ".n" suffix. A row shorter
// than the header leaves the trailing columns absent; a longer row is an
// error.
func ReadTable(r io.Reader, opts ReadOptions) (*Table, error) {
	decoded, err := decodeCharset(r, opts.Charset)
	if err != nil {
		return nil, &errs.TableError{Err: err}
	}
	br := bufio.NewReader(decoded)

	delim := opts.Delimiter
	if delim == 0 {
		delim, err = sniffDelimiter(br)
		if err != nil {
			return nil, &errs.TableError{Err: err}
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &errs.TableError{Err: errors.New("empty input")}
	}
	if err != nil {
		return nil, tableError(err)
	}
	header = dedupeHeader(header)

	table := &Table{Header: header}
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, tableError(err)
		}
		if len(cells) > len(header) {
			line, _ := cr.FieldPos(0)
			return nil, &errs.TableError{Line: line, Err: fmt.Errorf("expected %d fields, saw %d", len(header), len(cells))}
		}
		fields := make([]Field, len(cells))
		for i, cell := range cells {
			fields[i] = Field{Name: header[i], Value: cell}
		}
		table.Rows = append(table.Rows, RawRecord{fields: fields})
	}
	return table, nil
}

func tableError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &errs.TableError{Line: parseErr.Line, Err: parseErr.Err}
	}
	return &errs.TableError{Err: err}
}

func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	charset = strings.TrimSpace(charset)
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

// sniffDelimiter picks the candidate that occurs most often in the first line,
// ignoring quoted text. Comma wins ties and single-column files.
func sniffDelimiter(br *bufio.Reader) (rune, error) {
	line, err := br.Peek(br.Size())
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return 0, err
	}
	counts := make(map[rune]int, len(candidateDelimiters))
	quoted := false
	for _, c := range string(line) {
		if c == '"' {
			quoted = !quoted
			continue
		}
		if quoted {
			continue
		}
		if c == '\n' || c == '\r' {
			break
		}
		counts[c]++
	}
	best := ','
	for _, d := range candidateDelimiters {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best, nil
}

func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		candidate := name
		for n := 1; taken[candidate]; n++ {
			candidate = name + "." + strconv.Itoa(n)
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}

// ExportHeader returns header followed by the output columns that are not
// already in it.
func ExportHeader(header []string) []string {
	out := append([]string(nil), header...)
	for _, col := range []string{ProbabilityColumn, RiskColumn} {
		found := false
		for _, h := range header {
			if h == col {
				found = true
				break
			}
		}
		if !found {
			out = append(out, col)
		}
	}
	return out
}

// WriteTable writes scored records as UTF-8 CSV with a header row and no
// index column. header is the input header; the output columns are
// appended by ExportHeader.
func WriteTable(w io.Writer, header []string, records []ScoredRecord) error {
	cw := csv.NewWriter(w)
	columns := ExportHeader(header)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(Cells(columns, rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Cells renders rec in the order of columns, formatting the probability to
// four decimals. Columns the record lacks are empty.
func Cells(columns []string, rec ScoredRecord) []string {
	row := make([]string, len(columns))
	for i, col := range columns {
		switch col {
		case ProbabilityColumn:
			row[i] = strconv.FormatFloat(rec.Probability, 'f', 4, 64)
		case RiskColumn:
			row[i] = string(rec.Risk)
		default:
			v, _ := rec.Record.Get(col)
			row[i] = formatCell(v)
		}
	}
	return row
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
