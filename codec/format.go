package codec

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"obd-signal-core/bitfield"
	"obd-signal-core/report"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EnumEntry is the label/symbol pair a raw value maps to.
type EnumEntry struct {
	Label  string `json:"description"`
	Symbol string `json:"value"`
}

// Format describes how one value is laid out in a response buffer and how
// its raw integer becomes a physical value: raw * Multiplier / Divisor + Offset.
type Format struct {
	BitOffset  int                 `json:"bix,omitempty"`
	BitLength  int                 `json:"len"`
	Signed     bool                `json:"sign,omitempty"`
	Multiplier float64             `json:"mul,omitempty" jsonschema:"default=1"`
	Divisor    float64             `json:"div,omitempty" jsonschema:"default=1"`
	Offset     float64             `json:"add,omitempty"`
	Min        *float64            `json:"min,omitempty"`
	Max        *float64            `json:"max,omitempty"`
	Unit       Unit                `json:"unit,omitempty"`
	Enum       map[int64]EnumEntry `json:"map,omitempty"`
}

// NewFormat returns a format with the identity scaling.
func NewFormat(bitOffset, bitLength int) Format {
	return Format{
		BitOffset:  bitOffset,
		BitLength:  bitLength,
		Multiplier: 1,
		Divisor:    1,
	}
}

type formatJSON struct {
	BitOffset  int                  `json:"bix,omitempty"`
	BitLength  int                  `json:"len"`
	Signed     bool                 `json:"sign,omitempty"`
	Multiplier *float64             `json:"mul,omitempty"`
	Divisor    *float64             `json:"div,omitempty"`
	Offset     float64              `json:"add,omitempty"`
	Min        *float64             `json:"min,omitempty"`
	Max        *float64             `json:"max,omitempty"`
	Unit       Unit                 `json:"unit,omitempty"`
	Enum       map[string]EnumEntry `json:"map,omitempty"`
}

func (f *Format) UnmarshalJSON(data []byte) error {
	var in formatJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*f = Format{
		BitOffset:  in.BitOffset,
		BitLength:  in.BitLength,
		Signed:     in.Signed,
		Multiplier: 1,
		Divisor:    1,
		Offset:     in.Offset,
		Min:        in.Min,
		Max:        in.Max,
		Unit:       in.Unit,
	}
	if in.Multiplier != nil {
		f.Multiplier = *in.Multiplier
	}
	if in.Divisor != nil {
		f.Divisor = *in.Divisor
	}
	if len(in.Enum) > 0 {
		f.Enum = make(map[int64]EnumEntry, len(in.Enum))
		for k, v := range in.Enum {
			key, err := parseEnumKey(k)
			if err != nil {
				return errors.Wrapf(err, "map key %q", k)
			}
			f.Enum[key] = v
		}
	}
	return nil
}

// MarshalJSON omits fields that hold their default value.
func (f Format) MarshalJSON() ([]byte, error) {
	out := formatJSON{
		BitOffset: f.BitOffset,
		BitLength: f.BitLength,
		Signed:    f.Signed,
		Offset:    f.Offset,
		Min:       f.Min,
		Max:       f.Max,
		Unit:      f.Unit,
	}
	if f.Multiplier != 1 {
		m := f.Multiplier
		out.Multiplier = &m
	}
	if f.Divisor != 1 {
		d := f.Divisor
		out.Divisor = &d
	}
	if len(f.Enum) > 0 {
		out.Enum = make(map[string]EnumEntry, len(f.Enum))
		for k, v := range f.Enum {
			out.Enum[strconv.FormatInt(k, 10)] = v
		}
	}
	return json.Marshal(out)
}

func parseEnumKey(s string) (int64, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		u, err := strconv.ParseUint(s[2:], 16, 64)
		return int64(u), err
	}
	return strconv.ParseInt(s, 10, 64)
}

// Raw is the bit pattern of an extracted field, sign-extended when the
// format is signed and zero-extended otherwise.
type Raw int64

// Float interprets r under the signedness of its field.
func (r Raw) Float(signed bool) float64 {
	if signed {
		return float64(int64(r))
	}
	return float64(uint64(r))
}

// Extract reads the raw field described by f from buf.
func (f *Format) Extract(buf []byte) (Raw, error) {
	if f.Signed {
		v, err := bitfield.Int(buf, f.BitOffset, f.BitLength)
		if err != nil {
			return 0, fieldIssue(err)
		}
		return Raw(v), nil
	}

	u, err := bitfield.Uint(buf, f.BitOffset, f.BitLength)
	if err != nil {
		return 0, fieldIssue(err)
	}
	return Raw(int64(u)), nil
}

// Put writes raw into buf at the field described by f.
func (f *Format) Put(buf []byte, raw Raw) error {
	var err error
	if f.Signed {
		err = bitfield.PutInt(buf, f.BitOffset, f.BitLength, int64(raw))
	} else {
		err = bitfield.PutUint(buf, f.BitOffset, f.BitLength, uint64(raw))
	}
	if err != nil {
		return fieldIssue(err)
	}
	return nil
}

func fieldIssue(err error) error {
	switch {
	case errors.Is(err, bitfield.ErrOutOfRange):
		return report.New(report.OutOfRange, "", "%v", err)
	case errors.Is(err, bitfield.ErrInvalidLength):
		return report.New(report.InvalidBitLength, "", "%v", err)
	default:
		return err
	}
}
