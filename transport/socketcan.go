package transport

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// Conn is a raw CAN frame connection.
type Conn interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// SocketCAN is a Conn on a Linux SocketCAN interface. A single goroutine
// owns the receiver and hands frames to ReadFrame callers.
type SocketCAN struct {
	conn   net.Conn
	tx     *socketcan.Transmitter
	frames chan can.Frame
	done   chan struct{}

	closeOnce sync.Once
	rxErr     error
}

func DialSocketCAN(ctx context.Context, iface string) (*SocketCAN, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	s := &SocketCAN{
		conn:   conn,
		tx:     socketcan.NewTransmitter(conn),
		frames: make(chan can.Frame, 64),
		done:   make(chan struct{}),
	}
	go s.receiveLoop(socketcan.NewReceiver(conn))
	return s, nil
}

func (s *SocketCAN) receiveLoop(rx *socketcan.Receiver) {
	defer close(s.frames)
	for rx.Receive() {
		if rx.HasErrorFrame() {
			continue
		}
		select {
		case s.frames <- rx.Frame():
		case <-s.done:
			return
		}
	}
	s.rxErr = rx.Err()
}

func (s *SocketCAN) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := s.tx.TransmitFrame(ctx, frame); err != nil {
		return errors.Wrapf(err, "transmit 0x%X", frame.ID)
	}
	return nil
}

// ReadFrame blocks until a frame arrives, the receiver stops or ctx ends.
func (s *SocketCAN) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			if s.rxErr != nil {
				return can.Frame{}, errors.Wrap(s.rxErr, "receive")
			}
			return can.Frame{}, errors.New("receive: connection closed")
		}
		return f, nil
	}
}

func (s *SocketCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
