package signalset

import (
	"bytes"
	stdjson "encoding/json"
	"sort"

	"github.com/pkg/errors"
)

const indent = "  "

// Format renders doc in canonical form: hex upper-cased, default fields
// omitted, signals ordered by bit offset, two-space indent and a trailing
// newline.
func Format(doc *Document) ([]byte, error) {
	canon := doc.Normalize()
	for i := range canon.Commands {
		sigs := canon.Commands[i].Signals
		sort.SliceStable(sigs, func(a, b int) bool {
			return sigs[a].Format.BitOffset < sigs[b].Format.BitOffset
		})
	}

	compact, err := json.Marshal(canon)
	if err != nil {
		return nil, errors.Wrap(err, "marshal signal set")
	}

	return indentJSON(compact)
}

// indentJSON re-indents compact JSON. jsoniter writes Marshaler output
// verbatim, so indenting has to happen over the whole document.
func indentJSON(compact []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := stdjson.Indent(&buf, compact, "", indent); err != nil {
		return nil, errors.Wrap(err, "indent json")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// FormatBytes parses data and returns its canonical form.
func FormatBytes(data []byte) ([]byte, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Format(doc)
}
