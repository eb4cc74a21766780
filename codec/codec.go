package codec

import (
	"math"

	"obd-signal-core/report"
)

// Tolerance is the relative slack allowed when comparing declared bounds
// with values the formula can produce.
const Tolerance = 1e-6

// Measurement is one decoded signal value. Enum-mapped signals carry Label
// and Symbol; scaled signals carry Value and Unit.
type Measurement struct {
	Raw     Raw
	Value   float64
	Unit    Unit
	Enum    bool
	Label   string
	Symbol  string
	Clamped bool
}

type scaledJSON struct {
	Value   float64 `json:"value"`
	Unit    Unit    `json:"unit,omitempty"`
	Raw     Raw     `json:"raw"`
	Clamped bool    `json:"clamped,omitempty"`
}

type enumJSON struct {
	Label  string `json:"label"`
	Symbol string `json:"symbol"`
	Raw    Raw    `json:"raw"`
}

func (m Measurement) MarshalJSON() ([]byte, error) {
	if m.Enum {
		return json.Marshal(enumJSON{Label: m.Label, Symbol: m.Symbol, Raw: m.Raw})
	}
	return json.Marshal(scaledJSON{Value: m.Value, Unit: m.Unit, Raw: m.Raw, Clamped: m.Clamped})
}

// UnknownEnum is the sentinel callers may substitute for an UnmappedEnum
// failure.
func UnknownEnum(raw Raw) Measurement {
	return Measurement{Raw: raw, Enum: true, Label: "Unknown", Symbol: "UNKNOWN"}
}

// Scale applies the linear formula without clamping.
func (f *Format) Scale(raw Raw) float64 {
	return raw.Float(f.Signed)*f.Multiplier/f.Divisor + f.Offset
}

// Clamp pulls v into [Min, Max] for the bounds that are declared.
func (f *Format) Clamp(v float64) (float64, bool) {
	if f.Min != nil && v < *f.Min {
		return *f.Min, true
	}
	if f.Max != nil && v > *f.Max {
		return *f.Max, true
	}
	return v, false
}

// Decode turns a raw field value into a measurement. On UnmappedEnum the
// returned measurement still carries the raw value.
func Decode(raw Raw, f *Format) (Measurement, error) {
	if f.Enum != nil {
		entry, ok := f.Enum[int64(raw)]
		if !ok {
			return Measurement{Raw: raw, Enum: true}, report.New(report.UnmappedEnum, "", "raw value %d has no map entry", int64(raw))
		}
		return Measurement{Raw: raw, Enum: true, Label: entry.Label, Symbol: entry.Symbol}, nil
	}

	if f.Divisor == 0 {
		return Measurement{}, report.New(report.DegenerateDivisor, "", "divisor is zero")
	}

	v, clamped := f.Clamp(f.Scale(raw))
	return Measurement{Raw: raw, Value: v, Unit: f.Unit, Clamped: clamped}, nil
}

// DecodeBuffer extracts and decodes the field described by f.
func DecodeBuffer(buf []byte, f *Format) (Measurement, error) {
	raw, err := f.Extract(buf)
	if err != nil {
		return Measurement{}, err
	}
	return Decode(raw, f)
}

// Encode inverts the formula: the value is clamped to the declared bounds,
// scaled back, rounded and clamped to the raw domain.
func Encode(v float64, f *Format) (Raw, error) {
	if f.BitLength <= 0 || f.BitLength > 64 {
		return 0, report.New(report.InvalidBitLength, "", "length %d not in 1..64", f.BitLength)
	}
	if f.Divisor == 0 {
		return 0, report.New(report.DegenerateDivisor, "", "divisor is zero")
	}
	if f.Multiplier == 0 {
		return 0, report.New(report.DegenerateDivisor, "", "multiplier is zero, formula is not invertible")
	}

	v, _ = f.Clamp(v)
	r := math.Round((v - f.Offset) * f.Divisor / f.Multiplier)
	return clampRaw(r, f.BitLength, f.Signed), nil
}

// EncodeSymbol finds the raw value mapped to symbol.
func EncodeSymbol(symbol string, f *Format) (Raw, error) {
	for k, e := range f.Enum {
		if e.Symbol == symbol {
			return Raw(k), nil
		}
	}
	return 0, report.New(report.UnmappedEnum, "", "symbol %q has no map entry", symbol)
}

// Domain returns the representable raw range of the field.
func (f *Format) Domain() (lo, hi float64) {
	n := f.BitLength
	if f.Signed {
		return -math.Ldexp(1, n-1), math.Ldexp(1, n-1) - 1
	}
	return 0, math.Ldexp(1, n) - 1
}

// Image returns the interval the unclamped formula maps the domain onto.
func (f *Format) Image() (lo, hi float64) {
	dlo, dhi := f.Domain()
	a := dlo*f.Multiplier/f.Divisor + f.Offset
	b := dhi*f.Multiplier/f.Divisor + f.Offset
	if a > b {
		return b, a
	}
	return a, b
}

func clampRaw(r float64, bitLen int, signed bool) Raw {
	lo, hi := (&Format{BitLength: bitLen, Signed: signed}).Domain()
	if r <= lo {
		r = lo
	}
	if r >= hi {
		// hi is not exact in float64 for 64-bit fields
		switch {
		case bitLen == 64 && signed:
			return Raw(math.MaxInt64)
		case bitLen == 64:
			return Raw(-1)
		}
		r = hi
	}
	if signed {
		return Raw(int64(r))
	}
	return Raw(int64(uint64(r)))
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= Tolerance*math.Max(1, math.Abs(b))
}
