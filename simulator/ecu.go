// Package simulator answers OBD-II requests for the commands of a signal set
// with values taken from a scenario timeline, so pollers can run against a
// virtual CAN interface.
package simulator

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"obd-signal-core/logger"
	"obd-signal-core/signalset"
	"obd-signal-core/transport"
)

const (
	negativeResponse  = 0x7F
	positiveOffset    = 0x40
	requestOutOfRange = 0x31
)

type route struct {
	cmd  *signalset.Command
	req  []byte
	rxID uint32
}

// ECU serves every command of a document on one CAN connection.
type ECU struct {
	conn   transport.Conn
	scen   *Scenario
	opts   transport.Options
	routes map[uint32][]route
	now    func() time.Time
	served atomic.Uint64
}

func New(doc *signalset.Document, conn transport.Conn, scen *Scenario, opts transport.Options) (*ECU, error) {
	e := &ECU{
		conn:   conn,
		scen:   scen,
		opts:   opts,
		routes: map[uint32][]route{},
		now:    time.Now,
	}
	for i := range doc.Commands {
		cmd := &doc.Commands[i]
		req, err := cmd.Request.Bytes()
		if err != nil {
			return nil, err
		}
		txID, err := cmd.RequestHeader()
		if err != nil {
			return nil, errors.Wrap(err, cmd.Key())
		}
		rxID, err := cmd.ResponseHeader()
		if err != nil {
			return nil, errors.Wrap(err, cmd.Key())
		}
		e.routes[txID] = append(e.routes[txID], route{cmd: cmd, req: req, rxID: rxID})
	}
	if len(e.routes) == 0 {
		return nil, errors.New("signal set has no commands")
	}
	return e, nil
}

// Served returns the number of positive responses sent.
func (e *ECU) Served() uint64 {
	return e.served.Load()
}

// Run answers requests until ctx ends or the connection fails.
func (e *ECU) Run(ctx context.Context) error {
	log := logger.G(ctx)
	log.WithField("headers", len(e.routes)).WithField("scenario", e.scen.Meta.Name).Info("simulator started")
	start := e.now()

	for {
		f, err := e.conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.WithField("served", e.Served()).Info("simulator stopped")
				return ctx.Err()
			}
			return errors.Wrap(err, "read frame")
		}
		routes, ok := e.routes[f.ID]
		if !ok {
			continue
		}
		req, ok := transport.SingleFramePayload(f)
		if !ok {
			continue
		}

		t := e.now().Sub(start).Seconds()
		if err := e.answer(ctx, f.ID, routes, req, t); err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.WithError(err).WithField("header", f.ID).Warn("response failed")
		}
	}
}

func (e *ECU) answer(ctx context.Context, txID uint32, routes []route, req []byte, t float64) error {
	for _, r := range routes {
		if !bytes.Equal(r.req, req) {
			continue
		}
		payload, err := signalset.EncodeResponse(r.cmd, e.scen.ValuesAt(t))
		if err != nil {
			return err
		}
		msg := make([]byte, 0, len(req)+len(payload))
		msg = append(msg, req[0]+positiveOffset)
		msg = append(msg, req[1:]...)
		msg = append(msg, payload...)
		if err := transport.Respond(ctx, e.conn, r.rxID, txID, msg, e.opts); err != nil {
			return errors.Wrap(err, r.cmd.Key())
		}
		e.served.Add(1)
		logger.G(ctx).WithField("command", r.cmd.Key()).Tracef("answered at t=%.3f", t)
		return nil
	}

	// the header is known but nothing matches the request
	nrc := []byte{negativeResponse, req[0], requestOutOfRange}
	return transport.Respond(ctx, e.conn, routes[0].rxID, txID, nrc, e.opts)
}
