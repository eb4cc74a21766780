package signalset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-signal-core/codec"
	"obd-signal-core/report"
)

func loadFixture(t *testing.T) *Document {
	t.Helper()
	doc, err := LoadFile(filepath.Join("testdata", "vehicle.json"))
	require.NoError(t, err)
	return doc
}

func intPtr(v int) *int { return &v }

func TestLoadFileNormalizes(t *testing.T) {
	doc := loadFixture(t)
	require.Len(t, doc.Commands, 2)

	cmd := doc.Commands[0]
	assert.Equal(t, "7E0", cmd.Header)
	assert.Equal(t, ServiceRequest{Service: "22", PID: "1E1C"}, cmd.Request)
	assert.Equal(t, "7E0:221E1C", cmd.Key())
	assert.Equal(t, 5.0, cmd.PollFrequency)
	require.NotNil(t, cmd.ModelYears)
	assert.Equal(t, 2019, *cmd.ModelYears.From)
	assert.Nil(t, cmd.ModelYears.To)

	odo := cmd.Signals[0].Format
	assert.Equal(t, 1.0, odo.Multiplier)
	assert.Equal(t, 100.0, odo.Divisor)
	assert.Equal(t, codec.UnitKilometers, odo.Unit)

	temp := doc.Commands[1].Signals[0]
	assert.Equal(t, "1A", temp.DiagnosticIn)
	assert.Equal(t, 3, doc.SignalCount())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{"commands": [{"hdr": "7E0", "cmd": {"22": "01", "01": "0C"}}]}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"commands": [`))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestCommandHelpers(t *testing.T) {
	doc := loadFixture(t)

	cmd, err := doc.Command("7e0:221e1c")
	require.NoError(t, err)
	hdr, err := cmd.RequestHeader()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7E0), hdr)
	rax, err := cmd.ResponseHeader()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7E8), rax)

	cmd, err = doc.Command("7E4:220105")
	require.NoError(t, err)
	rax, err = cmd.ResponseHeader()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7EC), rax)

	_, err = doc.Command("7E0:010D")
	assert.ErrorContains(t, err, "7E0:221E1C")

	assert.Equal(t, []string{"7E0:221E1C", "7E4:220105"}, doc.CommandKeys())

	payload, err := doc.Commands[0].Request.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x22, 0x1E, 0x1C}, payload)

	sig, ok := doc.Commands[0].Signal("TSLA_GEAR")
	require.True(t, ok)
	assert.Equal(t, "Gear", sig.Name)
	_, ok = doc.Commands[0].Signal("TSLA_TEMP")
	assert.False(t, ok)
}

func TestModelYears(t *testing.T) {
	y := &YearRange{From: intPtr(2019), To: intPtr(2021)}
	assert.False(t, y.Contains(2018))
	assert.True(t, y.Contains(2019))
	assert.True(t, y.Contains(2021))
	assert.False(t, y.Contains(2022))

	var none *YearRange
	assert.True(t, none.Contains(1990))

	cmd := Command{ModelYears: &YearRange{To: intPtr(2015)}}
	assert.True(t, cmd.AppliesTo(0))
	assert.True(t, cmd.AppliesTo(2010))
	assert.False(t, cmd.AppliesTo(2016))
}

func TestValidateFixture(t *testing.T) {
	r := Validate(loadFixture(t), Options{VehiclePrefix: "TSLA_"})
	assert.True(t, r.OK(), "%v", r.Err())
	assert.Empty(t, r.Issues)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Document)
		opts   Options
		kind   report.Kind
		signal string
	}{
		{
			name:   "duplicate id",
			mutate: func(d *Document) { d.Commands[1].Signals[0].ID = "TSLA_ODO" },
			kind:   report.DuplicateSignalID,
			signal: "TSLA_ODO",
		},
		{
			name:   "unknown category",
			mutate: func(d *Document) { d.Commands[0].Signals[0].Path = "Speedo" },
			kind:   report.UnknownCategory,
			signal: "TSLA_ODO",
		},
		{
			name: "orphaned dout",
			mutate: func(d *Document) {
				d.Commands[0].Signals[0].DiagnosticOut = "12"
			},
			kind:   report.OrphanedDiagnosticOut,
			signal: "TSLA_ODO",
		},
		{
			name:   "malformed din",
			mutate: func(d *Document) { d.Commands[1].Signals[0].DiagnosticIn = "1AB" },
			kind:   report.MalformedDiagnosticCode,
			signal: "TSLA_TEMP",
		},
		{
			name:   "non-hex dout",
			mutate: func(d *Document) { d.Commands[1].Signals[0].DiagnosticOut = "ZZ" },
			kind:   report.MalformedDiagnosticCode,
			signal: "TSLA_TEMP",
		},
		{
			name: "inverted years",
			mutate: func(d *Document) {
				d.Commands[0].ModelYears = &YearRange{From: intPtr(2022), To: intPtr(2019)}
			},
			kind: report.InvertedYearRange,
		},
		{
			name:   "bad header",
			mutate: func(d *Document) { d.Commands[0].Header = "7G0" },
			kind:   report.MalformedHeader,
		},
		{
			name:   "extended header",
			mutate: func(d *Document) { d.Commands[1].ResponseAddress = "800" },
			kind:   report.MalformedHeader,
		},
		{
			name:   "zero freq",
			mutate: func(d *Document) { d.Commands[1].PollFrequency = 0 },
			kind:   report.InvalidPollFrequency,
		},
		{
			name:   "short service",
			mutate: func(d *Document) { d.Commands[1].Request.Service = "2" },
			kind:   report.MalformedRequest,
		},
		{
			name:   "odd pid",
			mutate: func(d *Document) { d.Commands[1].Request.PID = "105" },
			kind:   report.MalformedRequest,
		},
		{
			name: "unachievable max",
			mutate: func(d *Document) {
				m := 700.0
				d.Commands[0].Signals[0].Format.Max = &m
			},
			kind:   report.UnachievableBound,
			signal: "TSLA_ODO",
		},
		{
			name:   "unknown unit",
			mutate: func(d *Document) { d.Commands[1].Signals[0].Format.Unit = "kelvin" },
			kind:   report.UnknownUnit,
			signal: "TSLA_TEMP",
		},
		{
			name:   "missing prefix",
			mutate: func(d *Document) {},
			opts:   Options{VehiclePrefix: "RIVN_"},
			kind:   report.UnprefixedSignalID,
			signal: "TSLA_GEAR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := loadFixture(t)
			tt.mutate(doc)

			r := Validate(doc, tt.opts)
			assert.False(t, r.OK())
			assert.True(t, r.Has(tt.kind), "issues: %v", r.Issues)
			if tt.signal != "" {
				assert.True(t, r.FailedSignals()[tt.signal])
			} else {
				assert.NotEmpty(t, r.FailedCommands())
			}
		})
	}
}

func TestValidateCollectsEverything(t *testing.T) {
	doc := loadFixture(t)
	doc.Commands[0].Header = "XYZ"
	doc.Commands[0].Signals[1].Path = "Nowhere"
	doc.Commands[1].Signals[0].ID = "TSLA_ODO"
	doc.Commands[1].Signals[0].DiagnosticIn = ""

	r := Validate(doc, Options{})
	assert.Len(t, r.Errors(), 4)
	for _, k := range []report.Kind{report.MalformedHeader, report.UnknownCategory,
		report.DuplicateSignalID, report.OrphanedDiagnosticOut} {
		assert.True(t, r.Has(k), k.String())
	}
}

func TestAdvisoriesDoNotFail(t *testing.T) {
	doc := loadFixture(t)
	doc.Commands[1].Signals[0].Format.Multiplier = 0.5

	r := Validate(doc, Options{})
	assert.True(t, r.OK())
	require.Len(t, r.Advisories(), 1)
	assert.Equal(t, report.MultiplierStyle, r.Advisories()[0].Kind)
	assert.Equal(t, "TSLA_TEMP", r.Advisories()[0].SignalID)
}

func writeDoc(t *testing.T, doc *Document) string {
	t.Helper()
	data, err := Format(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadPolicy(t *testing.T) {
	doc := loadFixture(t)
	doc.Commands[0].Signals[1].Path = "Nowhere"
	doc.Commands[1].PollFrequency = -1
	path := writeDoc(t, doc)
	ctx := context.Background()

	_, r, err := Load(ctx, path, Options{}, PolicyReject)
	require.Error(t, err)
	require.NotNil(t, r)
	assert.Contains(t, err.Error(), "2 validation error(s)")

	kept, r, err := Load(ctx, path, Options{}, PolicySkip)
	require.NoError(t, err)
	assert.Len(t, r.Errors(), 2)
	require.Len(t, kept.Commands, 1)
	require.Len(t, kept.Commands[0].Signals, 1)
	assert.Equal(t, "TSLA_ODO", kept.Commands[0].Signals[0].ID)

	pruned := doc.Prune(r)
	assert.Len(t, pruned.Commands, 1)
	assert.Len(t, doc.Commands, 2)
	assert.Len(t, doc.Commands[0].Signals, 2)

	clean, r, err := Load(ctx, filepath.Join("testdata", "vehicle.json"), Options{}, PolicyReject)
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.Len(t, clean.Commands, 2)
}

func TestBlankSignalIDSkipsOnlyThatSignal(t *testing.T) {
	doc, err := Parse([]byte(`{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "freq": 1, "signals": [
  {"id": "", "path": "Engine", "name": "first", "fmt": {"len": 8}},
  {"id": " ", "path": "Engine", "name": "second", "fmt": {"bix": 8, "len": 8}},
  {"id": "CAR_SPEED", "path": "Movement", "name": "Speed", "fmt": {"bix": 16, "len": 8, "unit": "kilometersPerHour"}}
]}]}`))
	require.NoError(t, err)

	r := Validate(doc, Options{})
	require.Len(t, r.Errors(), 2)
	for _, issue := range r.Errors() {
		assert.Equal(t, report.MissingSignalID, issue.Kind)
		assert.Equal(t, "7E0:010D", issue.Command)
	}
	assert.False(t, r.Has(report.DuplicateSignalID))
	assert.Empty(t, r.FailedCommands())

	kept, _, err := Accept(doc, Options{}, PolicySkip)
	require.NoError(t, err)
	require.Len(t, kept.Commands, 1)
	require.Len(t, kept.Commands[0].Signals, 1)
	assert.Equal(t, "CAR_SPEED", kept.Commands[0].Signals[0].ID)

	_, _, err = Accept(doc, Options{}, PolicyReject)
	assert.ErrorContains(t, err, "MissingSignalId")
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	p, err = ParsePolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	_, err = ParsePolicy("ignore")
	assert.Error(t, err)
}
