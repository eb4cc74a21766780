// Package sink publishes decoded samples to logs, MQTT and Redis.
package sink

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"obd-signal-core/codec"
	"obd-signal-core/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sample is one decoded response: every signal value of a command at a
// point in time.
type Sample struct {
	Session string                       `json:"session"`
	Command string                       `json:"command"`
	Header  string                       `json:"hdr"`
	Time    time.Time                    `json:"time"`
	Values  map[string]codec.Measurement `json:"values"`
	Errors  map[string]string            `json:"errors,omitempty"`
}

type Sink interface {
	Publish(ctx context.Context, s Sample) error
	Close() error
}

// Multi fans a sample out to every sink and collects all failures.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, s Sample) error {
	var result *multierror.Error
	for _, sk := range m {
		if err := sk.Publish(ctx, s); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m Multi) Close() error {
	var result *multierror.Error
	for _, sk := range m {
		if err := sk.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Log writes one line per signal value.
type Log struct {
	Level logrus.Level
}

func NewLog(level string) (*Log, error) {
	l, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return &Log{Level: l}, nil
}

func (l *Log) Publish(ctx context.Context, s Sample) error {
	log := logger.G(ctx).WithFields(logrus.Fields{
		"session": s.Session,
		"command": s.Command,
	})
	for id, m := range s.Values {
		entry := log.WithField("signal", id).WithField("raw", int64(m.Raw))
		if m.Enum {
			entry = entry.WithField("symbol", m.Symbol).WithField("label", m.Label)
		} else {
			entry = entry.WithField("value", m.Value).WithField("unit", string(m.Unit))
			if m.Clamped {
				entry = entry.WithField("clamped", true)
			}
		}
		entry.Log(l.Level, "sample")
	}
	for id, msg := range s.Errors {
		log.WithField("signal", id).Warn(msg)
	}
	return nil
}

func (l *Log) Close() error { return nil }

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
