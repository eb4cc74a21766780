package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	l := newLogger()

	formatter, ok := l.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.Equal(t, time.RFC3339Nano, formatter.TimestampFormat)
	assert.True(t, formatter.FullTimestamp)
}

func TestGetLogger(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, L.Logger, G(ctx).Logger)

	custom := logrus.NewEntry(logrus.New()).WithField("header", "7E0")
	ctx = WithLogger(ctx, custom)
	got := G(ctx)
	assert.Equal(t, "7E0", got.Data["header"])
	assert.Equal(t, custom.Logger, got.Logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{in: "trace", want: logrus.TraceLevel},
		{in: "DEBUG", want: logrus.DebugLevel},
		{in: "warn", want: logrus.WarnLevel},
		{in: "critical", want: logrus.ErrorLevel},
		{in: "", want: logrus.InfoLevel},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetLogFormatAndLevel(t *testing.T) {
	orig := L.Logger.Out
	origLevel := L.Logger.Level
	defer func() {
		SetLogOutput(orig)
		L.Logger.SetLevel(origLevel)
		SetLogFormat("text")
	}()

	var buf bytes.Buffer
	SetLogOutput(&buf)
	SetLogFormat("json")
	require.NoError(t, SetLogLevel("warn"))

	L.Info("hidden")
	L.WithField("signal", "CAR_SPEED").Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"signal":"CAR_SPEED"`)

	assert.Error(t, SetLogLevel("bogus"))
}

func TestSetLogFile(t *testing.T) {
	orig := L.Logger.Out
	defer SetLogOutput(orig)

	path := filepath.Join(t.TempDir(), "obdsig.log")
	closer, err := SetLogFile(path, false)
	require.NoError(t, err)

	L.Warn("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	_, err = SetLogFile(filepath.Join(t.TempDir(), "missing", "x.log"), false)
	assert.Error(t, err)
}
