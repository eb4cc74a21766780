package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-signal-core/report"
)

func ptr(v float64) *float64 { return &v }

func TestDecodeBuffer(t *testing.T) {
	t.Run("unsigned divided", func(t *testing.T) {
		f := NewFormat(0, 16)
		f.Divisor = 100

		m, err := DecodeBuffer([]byte{0x48, 0x0D}, &f)
		require.NoError(t, err)
		assert.Equal(t, Raw(18445), m.Raw)
		assert.InDelta(t, 184.45, m.Value, 1e-9)
		assert.False(t, m.Enum)
	})

	t.Run("signed", func(t *testing.T) {
		f := NewFormat(0, 16)
		f.Signed = true

		m, err := DecodeBuffer([]byte{0xFF, 0x38}, &f)
		require.NoError(t, err)
		assert.Equal(t, Raw(-200), m.Raw)
		assert.Equal(t, -200.0, m.Value)
	})

	t.Run("offset and unit", func(t *testing.T) {
		f := NewFormat(8, 8)
		f.Offset = -40
		f.Unit = UnitCelsius

		m, err := DecodeBuffer([]byte{0x00, 0x7B}, &f)
		require.NoError(t, err)
		assert.Equal(t, 83.0, m.Value)
		assert.Equal(t, UnitCelsius, m.Unit)
	})

	t.Run("out of range", func(t *testing.T) {
		f := NewFormat(8, 16)
		_, err := DecodeBuffer([]byte{0x00, 0x7B}, &f)
		require.Error(t, err)
		assert.Equal(t, report.OutOfRange, report.KindOf(err))
	})
}

func TestDecodeClamp(t *testing.T) {
	f := NewFormat(0, 8)
	f.Min = ptr(10)
	f.Max = ptr(200)

	m, err := Decode(Raw(250), &f)
	require.NoError(t, err)
	assert.Equal(t, 200.0, m.Value)
	assert.True(t, m.Clamped)

	m, err = Decode(Raw(3), &f)
	require.NoError(t, err)
	assert.Equal(t, 10.0, m.Value)
	assert.True(t, m.Clamped)

	m, err = Decode(Raw(42), &f)
	require.NoError(t, err)
	assert.Equal(t, 42.0, m.Value)
	assert.False(t, m.Clamped)

	for _, v := range []float64{-5, 10, 99.5, 200, 1e9} {
		once, _ := f.Clamp(v)
		twice, changed := f.Clamp(once)
		assert.Equal(t, once, twice)
		assert.False(t, changed)
	}
}

func TestDecodeEnum(t *testing.T) {
	f := NewFormat(0, 8)
	f.Divisor = 10
	f.Enum = map[int64]EnumEntry{
		0: {Label: "Park", Symbol: "P"},
		1: {Label: "Drive", Symbol: "D"},
	}

	m, err := Decode(Raw(1), &f)
	require.NoError(t, err)
	assert.True(t, m.Enum)
	assert.Equal(t, "Drive", m.Label)
	assert.Equal(t, "D", m.Symbol)

	_, err = Decode(Raw(7), &f)
	require.Error(t, err)
	assert.Equal(t, report.UnmappedEnum, report.KindOf(err))

	unknown := UnknownEnum(Raw(7))
	assert.Equal(t, "UNKNOWN", unknown.Symbol)

	raw, err := EncodeSymbol("P", &f)
	require.NoError(t, err)
	assert.Equal(t, Raw(0), raw)

	_, err = EncodeSymbol("R", &f)
	assert.Equal(t, report.UnmappedEnum, report.KindOf(err))
}

func TestMonotonic(t *testing.T) {
	up := NewFormat(0, 12)
	up.Multiplier = 3
	up.Divisor = 7
	up.Offset = -12

	down := up
	down.Multiplier = -3

	prevUp, prevDown := math.Inf(-1), math.Inf(1)
	for r := 0; r < 1<<12; r += 17 {
		vu := up.Scale(Raw(r))
		vd := down.Scale(Raw(r))
		assert.Greater(t, vu, prevUp)
		assert.Less(t, vd, prevDown)
		prevUp, prevDown = vu, vd
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		raw    Raw
	}{
		{name: "div 100", format: Format{BitLength: 16, Multiplier: 1, Divisor: 100}, raw: 18445},
		{name: "div 327.67", format: Format{BitLength: 16, Multiplier: 1, Divisor: 327.67}, raw: 32767},
		{name: "mul div add", format: Format{BitLength: 8, Multiplier: 100, Divisor: 255, Offset: -40}, raw: 201},
		{name: "signed", format: Format{BitLength: 16, Signed: true, Multiplier: 1, Divisor: 10}, raw: -200},
		{name: "negative slope", format: Format{BitLength: 10, Multiplier: -1, Divisor: 4, Offset: 100}, raw: 999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(tt.raw, &tt.format)
			require.NoError(t, err)

			raw, err := Encode(m.Value, &tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, raw)

			again, err := Decode(raw, &tt.format)
			require.NoError(t, err)
			assert.InDelta(t, m.Value, again.Value, 1e-6)
		})
	}

	t.Run("put and extract", func(t *testing.T) {
		f := Format{BitOffset: 4, BitLength: 12, Signed: true, Multiplier: 1, Divisor: 2}
		raw, err := Encode(-300.5, &f)
		require.NoError(t, err)

		buf := make([]byte, 3)
		require.NoError(t, f.Put(buf, raw))
		m, err := DecodeBuffer(buf, &f)
		require.NoError(t, err)
		assert.Equal(t, -300.5, m.Value)
	})

	t.Run("saturates at raw domain", func(t *testing.T) {
		f := Format{BitLength: 8, Multiplier: 1, Divisor: 1}
		raw, err := Encode(1000, &f)
		require.NoError(t, err)
		assert.Equal(t, Raw(255), raw)

		raw, err = Encode(-3, &f)
		require.NoError(t, err)
		assert.Equal(t, Raw(0), raw)
	})

	t.Run("degenerate", func(t *testing.T) {
		_, err := Encode(1, &Format{BitLength: 8, Multiplier: 1})
		assert.Equal(t, report.DegenerateDivisor, report.KindOf(err))

		_, err = Encode(1, &Format{BitLength: 8, Divisor: 1})
		assert.Equal(t, report.DegenerateDivisor, report.KindOf(err))

		_, err = Encode(1, &Format{BitLength: 0, Multiplier: 1, Divisor: 1})
		assert.Equal(t, report.InvalidBitLength, report.KindOf(err))
	})
}

func TestFormatJSON(t *testing.T) {
	var f Format
	require.NoError(t, json.Unmarshal([]byte(`{"bix":8,"len":16,"div":100,"max":655.35,"unit":"kilometers"}`), &f))
	assert.Equal(t, 8, f.BitOffset)
	assert.Equal(t, 1.0, f.Multiplier)
	assert.Equal(t, 100.0, f.Divisor)
	require.NotNil(t, f.Max)
	assert.Nil(t, f.Min)

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bix":8,"len":16,"div":100,"max":655.35,"unit":"kilometers"}`, string(out))

	var zero Format
	require.NoError(t, json.Unmarshal([]byte(`{"len":8,"div":0}`), &zero))
	assert.Equal(t, 0.0, zero.Divisor)

	var mapped Format
	require.NoError(t, json.Unmarshal([]byte(`{"len":2,"map":{"0":{"description":"Off","value":"OFF"},"0x1":{"description":"On","value":"ON"}}}`), &mapped))
	assert.Equal(t, "ON", mapped.Enum[1].Symbol)

	var bad Format
	assert.Error(t, json.Unmarshal([]byte(`{"len":2,"map":{"one":{"description":"On","value":"ON"}}}`), &bad))
}

func TestMeasurementJSON(t *testing.T) {
	out, err := json.Marshal(Measurement{Raw: 18445, Value: 184.45, Unit: UnitKilometers})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":184.45,"unit":"kilometers","raw":18445}`, string(out))

	out, err = json.Marshal(Measurement{Raw: 1, Enum: true, Label: "On", Symbol: "ON"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"On","symbol":"ON","raw":1}`, string(out))
}
