package signalset

import (
	"math"

	"obd-signal-core/codec"
	"obd-signal-core/report"
)

// Result is the outcome of decoding one signal of a response.
type Result struct {
	SignalID    string
	Measurement codec.Measurement
	Err         error
}

// DecodeResponse decodes every signal of cmd from the response payload. A
// failing signal gets its own error and never affects its siblings.
func DecodeResponse(cmd *Command, payload []byte) []Result {
	out := make([]Result, len(cmd.Signals))
	for i := range cmd.Signals {
		sig := &cmd.Signals[i]
		m, err := codec.DecodeBuffer(payload, &sig.Format)
		if issue, ok := err.(*report.Issue); ok {
			err = issue.WithSignal(sig.ID).InCommand(cmd.Key())
		}
		out[i] = Result{SignalID: sig.ID, Measurement: m, Err: err}
	}
	return out
}

// Measurements returns the successfully decoded values keyed by signal id.
// Unmapped enum values are replaced by the unknown sentinel when
// substituteUnknown is set.
func Measurements(results []Result, substituteUnknown bool) map[string]codec.Measurement {
	out := make(map[string]codec.Measurement, len(results))
	for _, r := range results {
		switch {
		case r.Err == nil:
			out[r.SignalID] = r.Measurement
		case substituteUnknown && report.KindOf(r.Err) == report.UnmappedEnum:
			out[r.SignalID] = codec.UnknownEnum(r.Measurement.Raw)
		}
	}
	return out
}

// PayloadLength returns the number of response bytes the signals of c span.
func (c *Command) PayloadLength() int {
	n := 0
	for i := range c.Signals {
		f := &c.Signals[i].Format
		if f.BitOffset < 0 || f.BitLength < 1 || f.BitOffset > codec.MaxPayloadBits-f.BitLength {
			continue
		}
		if end := (f.BitOffset + f.BitLength + 7) / 8; end > n {
			n = end
		}
	}
	return n
}

// EncodeResponse builds a response payload from physical values keyed by
// signal id. Enum signals take their raw map key. A signal without a value
// encodes its lower bound, or zero when it has none.
func EncodeResponse(cmd *Command, values map[string]float64) ([]byte, error) {
	buf := make([]byte, cmd.PayloadLength())
	for i := range cmd.Signals {
		sig := &cmd.Signals[i]
		v, ok := values[sig.ID]
		if !ok && sig.Format.Min != nil {
			v = *sig.Format.Min
		}

		var raw codec.Raw
		var err error
		if len(sig.Format.Enum) > 0 {
			raw = codec.Raw(math.Round(v))
		} else {
			raw, err = codec.Encode(v, &sig.Format)
		}
		if err == nil {
			err = sig.Format.Put(buf, raw)
		}
		if err != nil {
			if issue, ok := err.(*report.Issue); ok {
				return nil, issue.WithSignal(sig.ID).InCommand(cmd.Key())
			}
			return nil, err
		}
	}
	return buf, nil
}
