package codec

import (
	"math"
	"strconv"

	"obd-signal-core/report"
)

// maxStyleDivisor bounds the search for an integer divisor equivalent of a
// fractional multiplier.
const maxStyleDivisor = 10000

// MaxPayloadBits is the size of the largest ISO-TP message in bits.
const MaxPayloadBits = 8 * 4095

// Validate checks a format before any decoding happens. Fatal problems and
// advisories are both returned; callers split them by severity.
func Validate(f *Format) []*report.Issue {
	var issues []*report.Issue

	lengthOK := true
	if f.BitLength < 1 || f.BitLength > 64 {
		issues = append(issues, report.New(report.InvalidBitLength, "", "len %d not in 1..64", f.BitLength))
		lengthOK = false
	}
	if f.BitOffset < 0 {
		issues = append(issues, report.New(report.InvalidBitLength, "", "bix %d is negative", f.BitOffset))
	} else if lengthOK && f.BitOffset > MaxPayloadBits-f.BitLength {
		issues = append(issues, report.New(report.InvalidBitLength, "",
			"bix %d with len %d exceeds a 4095-byte payload", f.BitOffset, f.BitLength))
	}
	if !f.Unit.Known() {
		issues = append(issues, report.New(report.UnknownUnit, "", "unit %q is not a known unit", f.Unit))
	}

	// scaling fields are ignored for mapped values
	if f.Enum != nil {
		if lengthOK {
			issues = append(issues, validateEnumKeys(f)...)
		}
		return issues
	}

	if f.Divisor == 0 {
		issues = append(issues, report.New(report.DegenerateDivisor, "", "div is zero"))
		return issues
	}
	if !lengthOK {
		return issues
	}

	issues = append(issues, validateBounds(f)...)
	if issue := multiplierStyle(f); issue != nil {
		issues = append(issues, issue)
	}
	return issues
}

func validateBounds(f *Format) []*report.Issue {
	var issues []*report.Issue

	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		issues = append(issues, report.New(report.UnachievableBound, "",
			"min %s exceeds max %s", num(*f.Min), num(*f.Max)))
		return issues
	}

	lo, hi := f.Image()
	check := func(name string, bound *float64) {
		if bound == nil {
			return
		}
		b := *bound
		if (b > hi && !near(hi, b)) || (b < lo && !near(lo, b)) {
			issues = append(issues, report.New(report.UnachievableBound, "",
				"%s %s outside achievable range [%s, %s]", name, num(b), num(lo), num(hi)))
			return
		}
		if !f.onGrid(b) {
			issues = append(issues, report.Advise(report.OffGridBound, "",
				"%s %s is not produced by any raw value", name, num(b)))
		}
	}
	check("min", f.Min)
	check("max", f.Max)
	return issues
}

// onGrid reports whether some raw value scales to v within tolerance.
func (f *Format) onGrid(v float64) bool {
	if f.Multiplier == 0 {
		return near(f.Offset, v)
	}
	r := math.Round((v - f.Offset) * f.Divisor / f.Multiplier)
	lo, hi := f.Domain()
	r = math.Max(lo, math.Min(hi, r))
	return near(r*f.Multiplier/f.Divisor+f.Offset, v)
}

func validateEnumKeys(f *Format) []*report.Issue {
	var issues []*report.Issue
	lo, hi := f.Domain()
	for k := range f.Enum {
		v := Raw(k).Float(f.Signed)
		if v < lo || v > hi {
			issues = append(issues, report.New(report.UnachievableBound, "",
				"map key %d outside raw range [%s, %s]", k, num(lo), num(hi)))
		}
	}
	return issues
}

// multiplierStyle flags fractional multipliers that read better as an
// integer divisor, e.g. mul 0.5 as div 2.
func multiplierStyle(f *Format) *report.Issue {
	m := f.Multiplier
	if m == 0 || m == math.Trunc(m) {
		return nil
	}
	for q := 2; q <= maxStyleDivisor; q++ {
		p := m * float64(q)
		if math.Abs(p-math.Round(p)) > 1e-9*float64(q) {
			continue
		}
		p = math.Round(p)
		div := f.Divisor * float64(q)
		if p == 1 {
			return report.Advise(report.MultiplierStyle, "",
				"mul %s can be written as div %s", num(m), num(div))
		}
		return report.Advise(report.MultiplierStyle, "",
			"mul %s can be written as mul %s, div %s", num(m), num(p), num(div))
	}
	return nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
