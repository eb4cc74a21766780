package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-signal-core/config"
	"obd-signal-core/signalset"
)

const vehicleDoc = `{
  "commands": [
    {
      "hdr": "7e0",
      "cmd": {"22": "1e1c"},
      "freq": 5,
      "signals": [
        {"id": "TSLA_GEAR", "path": "Transmission", "name": "Gear",
         "fmt": {"bix": 16, "len": 2, "map": {"0": {"description": "Park", "value": "P"}, "1": {"description": "Drive", "value": "D"}}}},
        {"id": "TSLA_ODO", "path": "Trips", "name": "Odometer",
         "fmt": {"len": 16, "div": 100, "max": 655.35, "unit": "kilometers"}}
      ]
    }
  ]
}
`

const duplicateDoc = `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "freq": 1, "signals": [
  {"id": "A", "path": "Engine", "name": "a", "fmt": {"len": 8}},
  {"id": "A", "path": "Engine", "name": "b", "fmt": {"bix": 8, "len": 8}}
]}]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes the CLI with an isolated config file.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := writeFile(t, t.TempDir(), "obdsig.yaml", "log:\n  level: error\n")

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseHexData(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{in: "48 0D 40", want: []byte{0x48, 0x0D, 0x40}},
		{in: "480d40", want: []byte{0x48, 0x0D, 0x40}},
		{in: "48:0D", want: []byte{0x48, 0x0D}},
		{in: "0x48 0x0D", want: []byte{0x48, 0x0D}},
		{in: " ", wantErr: true},
		{in: "4", wantErr: true},
		{in: "zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseHexData(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	file := writeFile(t, t.TempDir(), "vehicle.json", vehicleDoc)

	out, err := run(t, "decode", file, "--command", "7e0:221e1c", "--data", "48 0D 40")
	require.NoError(t, err)

	var got struct {
		Command string                    `json:"command"`
		Values  map[string]map[string]any `json:"values"`
		Errors  map[string]string         `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "7E0:221E1C", got.Command)
	assert.InDelta(t, 184.45, got.Values["TSLA_ODO"]["value"], 1e-9)
	assert.Equal(t, "kilometers", got.Values["TSLA_ODO"]["unit"])
	assert.Equal(t, "D", got.Values["TSLA_GEAR"]["symbol"])
	assert.Empty(t, got.Errors)

	out, err = run(t, "decode", file, "--command", "7E0:221E1C", "--data", "48 0D C0")
	require.NoError(t, err)
	assert.Contains(t, out, "UnmappedEnum")

	_, err = run(t, "decode", file, "--command", "7E0:0100", "--data", "00")
	assert.ErrorContains(t, err, "7E0:221E1C")
}

func TestDecodeEncode(t *testing.T) {
	file := writeFile(t, t.TempDir(), "vehicle.json", vehicleDoc)

	out, err := run(t, "decode", file, "--command", "7E0:221E1C", "--encode", "TSLA_ODO=184.45,TSLA_GEAR=D")
	require.NoError(t, err)
	assert.Equal(t, "48 0D 40\n", out)

	_, err = run(t, "decode", file, "--command", "7E0:221E1C", "--encode", "TSLA_GEAR=R")
	assert.ErrorContains(t, err, "TSLA_GEAR")

	_, err = run(t, "decode", file, "--command", "7E0:221E1C", "--encode", "TSLA_SOC=1")
	assert.ErrorContains(t, err, "no signal TSLA_SOC")

	_, err = run(t, "decode", file, "--command", "7E0:221E1C", "--encode", "TSLA_ODO=1", "--data", "00")
	assert.ErrorContains(t, err, "exactly one")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", vehicleDoc)
	bad := writeFile(t, dir, "bad.json", duplicateDoc)

	out, err := run(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "good.json: ok (1 commands, 2 signals, 0 errors")

	out, err = run(t, "validate", good, bad)
	assert.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, "bad.json: error: DuplicateSignalId")
	assert.Contains(t, out, "(command 7E0:010D)")
	assert.Contains(t, out, "bad.json: FAIL")

	_, err = run(t, "validate", good, "--prefix", "FORD_")
	assert.ErrorIs(t, err, errValidationFailed)

	_, err = run(t, "validate", filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, errValidationFailed)
}

func TestFmtCommand(t *testing.T) {
	file := writeFile(t, t.TempDir(), "vehicle.json", vehicleDoc)

	out, err := run(t, "fmt", "--check", file)
	assert.Error(t, err)
	assert.Contains(t, out, file)

	out, err = run(t, "fmt", file)
	require.NoError(t, err)
	assert.Contains(t, out, `"hdr": "7E0"`)

	_, err = run(t, "fmt", "-w", file)
	require.NoError(t, err)
	_, err = run(t, "fmt", "--check", file)
	assert.NoError(t, err)

	written, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, out, string(written))

	_, err = run(t, "fmt", "-w", "--check", file)
	assert.Error(t, err)
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "OBD-II signal set")
	assert.Contains(t, out, "dbgfilter")
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "signals.csv",
		"hdr,service,pid,id,name,path,bix,len,formula,unit\n"+
			"7E0,01,05,GEN_COOLANT,Coolant,Engine,0,8,-40,celsius\n")

	out, err := run(t, "import", table)
	require.NoError(t, err)
	doc, err := signalset.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, doc.Commands, 1)
	assert.Equal(t, "7E0:0105", doc.Commands[0].Key())
	assert.Equal(t, -40.0, doc.Commands[0].Signals[0].Format.Offset)

	target := filepath.Join(dir, "out.json")
	_, err = run(t, "import", table, "-o", target)
	require.NoError(t, err)
	written, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, out, string(written))

	_, err = run(t, "import", writeFile(t, dir, "signals.ods", ""))
	assert.ErrorContains(t, err, "unsupported table format")
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "obdsig.yaml")

	out, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = run(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "request_timeout: 500ms")
	assert.Contains(t, out, "level: error")
}

func TestOpenSinks(t *testing.T) {
	cfg := config.Default()
	out, err := openSinks(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	cfg.Sinks.Log.Enabled = false
	_, err = openSinks(context.Background(), &cfg)
	assert.ErrorContains(t, err, "no sinks enabled")
}
