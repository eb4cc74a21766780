// Package transport sends signal-set commands over CAN and returns their
// response payloads.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"obd-signal-core/logger"
	"obd-signal-core/signalset"
)

const (
	negativeResponse = 0x7F
	positiveOffset   = 0x40
	responsePending  = 0x78
)

// ErrTimeout is returned when no complete response arrives in time.
var ErrTimeout = errors.New("response timeout")

// NegativeResponseError is an ECU rejection of a request.
type NegativeResponseError struct {
	Service byte
	Code    byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response to service 0x%02X: code 0x%02X", e.Service, e.Code)
}

type Options struct {
	RequestTimeout time.Duration
	Retries        uint
	RetryDelay     time.Duration
	Padding        byte
}

func DefaultOptions() Options {
	return Options{
		RequestTimeout: 500 * time.Millisecond,
		Retries:        2,
		RetryDelay:     50 * time.Millisecond,
		Padding:        0xAA,
	}
}

// Client runs request/response exchanges on a Conn, one at a time.
type Client struct {
	conn Conn
	opts Options
	mu   sync.Mutex
}

func NewClient(conn Conn, opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	return &Client{conn: conn, opts: opts}
}

// Request sends cmd and returns the response payload after the service and
// PID echo. Timeouts are retried; negative responses are not.
func (c *Client) Request(ctx context.Context, cmd *signalset.Command) ([]byte, error) {
	req, err := cmd.Request.Bytes()
	if err != nil {
		return nil, err
	}
	txID, err := cmd.RequestHeader()
	if err != nil {
		return nil, err
	}
	rxID, err := cmd.ResponseHeader()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	log := logger.G(ctx).WithField("command", cmd.Key())
	var payload []byte
	err = retry.Do(
		func() error {
			var err error
			payload, err = c.exchange(ctx, txID, rxID, req)
			return err
		},
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrTimeout) }),
		retry.Attempts(c.opts.Retries+1),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Debug("retrying request")
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s", cmd.Key())
	}
	return payload, nil
}

func (c *Client) exchange(ctx context.Context, txID, rxID uint32, req []byte) ([]byte, error) {
	frame, err := singleFrame(txID, req, c.opts.Padding)
	if err != nil {
		return nil, err
	}
	if err := c.conn.WriteFrame(ctx, frame); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.opts.RequestTimeout)
	var asm assembler
	for {
		f, err := readUntil(ctx, c.conn, deadline)
		if err != nil {
			return nil, err
		}
		if f.ID != rxID || f.IsRemote {
			continue
		}

		msg, needFC, err := asm.feed(f)
		if err != nil {
			return nil, err
		}
		if needFC {
			if err := c.conn.WriteFrame(ctx, flowControl(txID, c.opts.Padding)); err != nil {
				return nil, err
			}
			continue
		}
		if msg == nil {
			continue
		}

		payload, pending, err := checkResponse(req, msg)
		if pending {
			deadline = time.Now().Add(c.opts.RequestTimeout)
			continue
		}
		return payload, err
	}
}

// checkResponse strips the service and PID echo from msg. pending is set for
// a "response pending" negative response, after which the real answer follows.
func checkResponse(req, msg []byte) (payload []byte, pending bool, err error) {
	svc := req[0]
	if len(msg) >= 3 && msg[0] == negativeResponse && msg[1] == svc {
		if msg[2] == responsePending {
			return nil, true, nil
		}
		return nil, false, &NegativeResponseError{Service: svc, Code: msg[2]}
	}
	if len(msg) < len(req) || msg[0] != svc+positiveOffset {
		return nil, false, errors.Errorf("unexpected response % X to request % X", msg, req)
	}
	if !bytes.Equal(msg[1:len(req)], req[1:]) {
		return nil, false, errors.Errorf("response echoes pid % X, want % X", msg[1:len(req)], req[1:])
	}
	return msg[len(req):], false, nil
}

// compile-time check that SocketCAN satisfies Conn
var _ Conn = (*SocketCAN)(nil)
