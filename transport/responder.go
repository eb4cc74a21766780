package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.einride.tech/can"
)

// Respond sends msg on txID as one ISO-TP message. Consecutive frames of a
// long message are paced by the flow control frames arriving on fcID; each
// one is awaited for at most opts.RequestTimeout.
func Respond(ctx context.Context, conn Conn, txID, fcID uint32, msg []byte, opts Options) error {
	frames, err := segment(txID, msg, opts.Padding)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(ctx, frames[0]); err != nil {
		return err
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultOptions().RequestTimeout
	}

	rest := frames[1:]
	for len(rest) > 0 {
		blockSize, stMin, err := awaitFlowControl(ctx, conn, fcID, timeout)
		if err != nil {
			return err
		}
		n := len(rest)
		if blockSize > 0 && blockSize < n {
			n = blockSize
		}
		for _, f := range rest[:n] {
			if stMin > 0 {
				if err := sleep(ctx, stMin); err != nil {
					return err
				}
			}
			if err := conn.WriteFrame(ctx, f); err != nil {
				return err
			}
		}
		rest = rest[n:]
	}
	return nil
}

func awaitFlowControl(ctx context.Context, conn Conn, fcID uint32, timeout time.Duration) (int, time.Duration, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := readUntil(ctx, conn, deadline)
		if err != nil {
			return 0, 0, err
		}
		if f.ID != fcID || f.Length < 3 || f.Data[0]>>4 != pciFlowControl {
			continue
		}
		switch f.Data[0] & 0x0F {
		case flowContinue:
			return int(f.Data[1]), separationTime(f.Data[2]), nil
		case flowWait:
			deadline = time.Now().Add(timeout)
		case flowOverflow:
			return 0, 0, errors.New("receiver reported buffer overflow")
		default:
			return 0, 0, errors.Errorf("invalid flow status 0x%X", f.Data[0]&0x0F)
		}
	}
}

func readUntil(ctx context.Context, conn Conn, deadline time.Time) (can.Frame, error) {
	rctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	f, err := conn.ReadFrame(rctx)
	if err != nil {
		if ctx.Err() != nil {
			return can.Frame{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return can.Frame{}, ErrTimeout
		}
		return can.Frame{}, err
	}
	return f, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
