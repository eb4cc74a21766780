package signalset

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"obd-signal-core/codec"
)

// Columns a signal table must carry. Everything else is optional.
var requiredColumns = []string{"hdr", "service", "pid", "id", "name", "path", "bix", "len"}

// Optional columns: rax, freq, sign, formula, mul, div, add, min, max, unit,
// description, metric, din, dout, from, to.

const defaultPollFrequency = 1

// ImportCSV builds a document from a CSV signal table with one row per
// signal. Rows sharing hdr, rax, service and pid become one command.
func ImportCSV(r io.Reader) (*Document, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	b, err := newTableBuilder(header)
	if err != nil {
		return nil, err
	}

	row := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", row)
		}
		if err := b.add(row, rec); err != nil {
			return nil, err
		}
	}
	return b.document(), nil
}

// ImportXLSX reads the same table layout from a workbook sheet. An empty
// sheet name selects the first sheet.
func ImportXLSX(path, sheet string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open workbook")
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", sheet)
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("sheet %q is empty", sheet)
	}

	b, err := newTableBuilder(rows[0])
	if err != nil {
		return nil, err
	}
	for i, rec := range rows[1:] {
		if blank(rec) {
			continue
		}
		if err := b.add(i+2, rec); err != nil {
			return nil, err
		}
	}
	return b.document(), nil
}

type tableBuilder struct {
	idx      map[string]int
	order    []string
	commands map[string]*Command
}

func newTableBuilder(header []string) (*tableBuilder, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, errors.Errorf("signal table missing required column %q", k)
		}
	}
	return &tableBuilder{idx: idx, commands: map[string]*Command{}}, nil
}

// cell returns the trimmed value of column name, or "" when the column or
// the cell is absent.
func (b *tableBuilder) cell(rec []string, name string) string {
	i, ok := b.idx[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (b *tableBuilder) add(row int, rec []string) error {
	get := func(name string) string { return b.cell(rec, name) }
	fail := func(err error, col string) error {
		return errors.Wrapf(err, "row %d column %s", row, col)
	}

	bix, err := parseInt(get("bix"))
	if err != nil {
		return fail(err, "bix")
	}
	length, err := parseInt(get("len"))
	if err != nil {
		return fail(err, "len")
	}

	f := codec.NewFormat(bix, length)
	f.Signed = parseBool(get("sign"))
	f.Unit = codec.Unit(get("unit"))

	if formula := get("formula"); formula != "" {
		s, err := ParseFormula(formula)
		if err != nil {
			return fail(err, "formula")
		}
		f.Multiplier, f.Divisor, f.Offset = s.Multiplier, s.Divisor, s.Offset
	} else {
		for _, c := range []struct {
			col string
			dst *float64
		}{{"mul", &f.Multiplier}, {"div", &f.Divisor}, {"add", &f.Offset}} {
			if v := get(c.col); v != "" {
				if *c.dst, err = strconv.ParseFloat(v, 64); err != nil {
					return fail(err, c.col)
				}
			}
		}
	}
	if f.Min, err = parseOptFloat(get("min")); err != nil {
		return fail(err, "min")
	}
	if f.Max, err = parseOptFloat(get("max")); err != nil {
		return fail(err, "max")
	}

	sig := Signal{
		ID:              get("id"),
		Path:            Category(get("path")),
		Name:            get("name"),
		Description:     get("description"),
		SuggestedMetric: get("metric"),
		Format:          f,
		DiagnosticIn:    upperHex(get("din")),
		DiagnosticOut:   upperHex(get("dout")),
	}
	if sig.ID == "" {
		return errors.Errorf("row %d: empty id", row)
	}

	cmd := Command{
		Header:          upperHex(get("hdr")),
		ResponseAddress: upperHex(get("rax")),
		Request:         ServiceRequest{Service: upperHex(get("service")), PID: upperHex(get("pid"))},
	}
	freqText := get("freq")
	hasFreq := freqText != ""
	var freq float64
	if hasFreq {
		if freq, err = strconv.ParseFloat(freqText, 64); err != nil {
			return fail(err, "freq")
		}
	}
	years, err := parseYears(get("from"), get("to"))
	if err != nil {
		return errors.Wrapf(err, "row %d", row)
	}

	// later rows of a command leave freq and years blank or repeat them
	key := cmd.Key() + "/" + cmd.ResponseAddress
	existing, ok := b.commands[key]
	if !ok {
		cmd.PollFrequency = defaultPollFrequency
		if hasFreq {
			cmd.PollFrequency = freq
		}
		cmd.ModelYears = years
		existing = &cmd
		b.commands[key] = existing
		b.order = append(b.order, key)
	} else {
		if hasFreq && freq != existing.PollFrequency {
			return errors.Errorf("row %d: inconsistent freq %v for command %s (was %v)",
				row, freq, existing.Key(), existing.PollFrequency)
		}
		if years != nil && !sameYears(years, existing.ModelYears) {
			return errors.Errorf("row %d: inconsistent model years for command %s", row, existing.Key())
		}
	}
	existing.Signals = append(existing.Signals, sig)
	return nil
}

func sameYears(a, b *YearRange) bool {
	if a == nil || b == nil {
		return a == b
	}
	eq := func(x, y *int) bool {
		return (x == nil && y == nil) || (x != nil && y != nil && *x == *y)
	}
	return eq(a.From, b.From) && eq(a.To, b.To)
}

func (b *tableBuilder) document() *Document {
	doc := &Document{Commands: make([]Command, 0, len(b.order))}
	for _, key := range b.order {
		cmd := b.commands[key]
		sort.SliceStable(cmd.Signals, func(i, j int) bool {
			return cmd.Signals[i].Format.BitOffset < cmd.Signals[j].Format.BitOffset
		})
		doc.Commands = append(doc.Commands, *cmd)
	}
	return doc
}

func parseYears(from, to string) (*YearRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	y := &YearRange{}
	if from != "" {
		v, err := parseInt(from)
		if err != nil {
			return nil, errors.Wrap(err, "column from")
		}
		y.From = &v
	}
	if to != "" {
		v, err := parseInt(to)
		if err != nil {
			return nil, errors.Wrap(err, "column to")
		}
		y.To = &v
	}
	return y, nil
}

func parseInt(s string) (int, error) {
	ss := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	v, err := strconv.ParseInt(ss, base, 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func parseOptFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseBool(s string) bool {
	ss := strings.TrimSpace(strings.ToLower(s))
	return ss == "true" || ss == "1" || ss == "yes" || ss == "signed"
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
