package transport

import (
	"time"

	"github.com/pkg/errors"
	"go.einride.tech/can"
)

// ISO-TP protocol control information, upper nibble of the first byte.
const (
	pciSingle      = 0x0
	pciFirst       = 0x1
	pciConsecutive = 0x2
	pciFlowControl = 0x3
)

const (
	maxSinglePayload = 7
	maxMessageLength = 0xFFF
)

// Flow status values of a flow control frame.
const (
	flowContinue = 0x0
	flowWait     = 0x1
	flowOverflow = 0x2
)

func padded(id uint32, pad byte) can.Frame {
	f := can.Frame{ID: id, Length: 8}
	for i := range f.Data {
		f.Data[i] = pad
	}
	return f
}

// singleFrame packs payload into an ISO-TP single frame padded to 8 bytes.
func singleFrame(id uint32, payload []byte, pad byte) (can.Frame, error) {
	if len(payload) == 0 || len(payload) > maxSinglePayload {
		return can.Frame{}, errors.Errorf("message of %d bytes does not fit a single frame", len(payload))
	}
	f := padded(id, pad)
	f.Data[0] = byte(pciSingle<<4 | len(payload))
	copy(f.Data[1:], payload)
	return f, nil
}

// SingleFramePayload returns the message carried by an ISO-TP single frame.
func SingleFramePayload(f can.Frame) ([]byte, bool) {
	if f.Length < 2 || f.IsRemote || f.Data[0]>>4 != pciSingle {
		return nil, false
	}
	n := int(f.Data[0] & 0x0F)
	if n == 0 || n > int(f.Length)-1 {
		return nil, false
	}
	return append([]byte(nil), f.Data[1:1+n]...), true
}

// segment splits msg into a single frame, or a first frame followed by
// consecutive frames.
func segment(id uint32, msg []byte, pad byte) ([]can.Frame, error) {
	if len(msg) <= maxSinglePayload {
		f, err := singleFrame(id, msg, pad)
		if err != nil {
			return nil, err
		}
		return []can.Frame{f}, nil
	}
	if len(msg) > maxMessageLength {
		return nil, errors.Errorf("message of %d bytes exceeds %d", len(msg), maxMessageLength)
	}

	first := padded(id, pad)
	first.Data[0] = byte(pciFirst<<4 | len(msg)>>8)
	first.Data[1] = byte(len(msg))
	rest := msg[copy(first.Data[2:], msg):]

	frames := []can.Frame{first}
	for seq := byte(1); len(rest) > 0; seq = (seq + 1) & 0x0F {
		f := padded(id, pad)
		f.Data[0] = pciConsecutive<<4 | seq
		rest = rest[copy(f.Data[1:], rest):]
		frames = append(frames, f)
	}
	return frames, nil
}

// flowControl asks the sender for all remaining frames without delay.
func flowControl(id uint32, pad byte) can.Frame {
	f := padded(id, pad)
	f.Data[0], f.Data[1], f.Data[2] = pciFlowControl<<4|flowContinue, 0x00, 0x00
	return f
}

// separationTime decodes the STmin byte of a flow control frame.
func separationTime(b byte) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 127 * time.Millisecond
	}
}

// assembler rebuilds one ISO-TP message from received frames.
type assembler struct {
	want int
	buf  []byte
	next byte
}

// feed consumes a frame. It returns the complete message once available, and
// reports whether a flow control frame must be sent.
func (a *assembler) feed(f can.Frame) (msg []byte, sendFlowControl bool, err error) {
	data := f.Data[:f.Length]
	if len(data) == 0 {
		return nil, false, errors.New("empty frame")
	}

	switch data[0] >> 4 {
	case pciSingle:
		n := int(data[0] & 0x0F)
		if n == 0 || n > len(data)-1 {
			return nil, false, errors.Errorf("single frame length %d invalid for dlc %d", n, f.Length)
		}
		return append([]byte(nil), data[1:1+n]...), false, nil

	case pciFirst:
		if len(data) < 8 {
			return nil, false, errors.Errorf("first frame dlc %d", f.Length)
		}
		a.want = int(data[0]&0x0F)<<8 | int(data[1])
		if a.want <= maxSinglePayload || a.want > maxMessageLength {
			return nil, false, errors.Errorf("first frame length %d invalid", a.want)
		}
		a.buf = append(a.buf[:0], data[2:]...)
		a.next = 1
		return nil, true, nil

	case pciConsecutive:
		if a.want == 0 {
			return nil, false, errors.New("consecutive frame without first frame")
		}
		if seq := data[0] & 0x0F; seq != a.next {
			return nil, false, errors.Errorf("consecutive frame sequence %d, want %d", seq, a.next)
		}
		a.next = (a.next + 1) & 0x0F
		a.buf = append(a.buf, data[1:]...)
		if len(a.buf) >= a.want {
			msg := a.buf[:a.want]
			a.want, a.buf = 0, nil
			return msg, false, nil
		}
		return nil, false, nil

	case pciFlowControl:
		return nil, false, nil

	default:
		return nil, false, errors.Errorf("unknown pci 0x%X", data[0]>>4)
	}
}
