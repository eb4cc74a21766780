// Package bitfield reads and writes integer fields inside response buffers.
// Buffers are most-significant byte first and fields are addressed
// most-significant bit first: bit 0 is the top bit of buf[0].
package bitfield

import (
	"github.com/pkg/errors"
)

var (
	ErrOutOfRange    = errors.New("bit field exceeds buffer")
	ErrInvalidLength = errors.New("invalid bit field")
	ErrValueRange    = errors.New("value does not fit bit field")
)

const MaxLength = 64

func mask(length int) uint64 {
	if length >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << length) - 1
}

// Check reports whether a field of length bits at offset fits a buffer of
// size bytes.
func Check(size, offset, length int) error {
	if length <= 0 || length > MaxLength {
		return errors.Wrapf(ErrInvalidLength, "length %d not in 1..%d", length, MaxLength)
	}
	if offset < 0 {
		return errors.Wrapf(ErrInvalidLength, "negative offset %d", offset)
	}
	if offset > size*8-length {
		return errors.Wrapf(ErrOutOfRange, "%d bits at offset %d exceed a %d-byte buffer", length, offset, size)
	}
	return nil
}

// Uint extracts an unsigned field.
func Uint(buf []byte, offset, length int) (uint64, error) {
	if err := Check(len(buf), offset, length); err != nil {
		return 0, err
	}

	var v uint64
	for i := offset; i < offset+length; i++ {
		bit := (buf[i/8] >> (7 - uint(i%8))) & 0x01
		v = v<<1 | uint64(bit)
	}
	return v, nil
}

// Int extracts a two's-complement field.
func Int(buf []byte, offset, length int) (int64, error) {
	u, err := Uint(buf, offset, length)
	if err != nil {
		return 0, err
	}
	return SignExtend(u, length), nil
}

// SignExtend reinterprets the low length bits of u as two's complement.
func SignExtend(u uint64, length int) int64 {
	if length >= 64 {
		return int64(u)
	}
	u &= mask(length)
	signBit := uint64(1) << (length - 1)
	if u&signBit == 0 {
		return int64(u)
	}
	return int64(u) - int64(uint64(1)<<length)
}

// PutUint writes v into the field. Bits outside the field are untouched.
func PutUint(buf []byte, offset, length int, v uint64) error {
	if err := Check(len(buf), offset, length); err != nil {
		return err
	}
	if v&^mask(length) != 0 {
		return errors.Wrapf(ErrValueRange, "%d in %d unsigned bits", v, length)
	}

	for i := 0; i < length; i++ {
		pos := offset + i
		bit := byte(v>>(length-1-i)) & 0x01
		shift := 7 - uint(pos%8)
		buf[pos/8] = buf[pos/8]&^(1<<shift) | bit<<shift
	}
	return nil
}

// PutInt writes v as a two's-complement field.
func PutInt(buf []byte, offset, length int, v int64) error {
	if length > 0 && length < 64 {
		lo := -(int64(1) << (length - 1))
		hi := (int64(1) << (length - 1)) - 1
		if v < lo || v > hi {
			return errors.Wrapf(ErrValueRange, "%d in %d signed bits", v, length)
		}
	}
	return PutUint(buf, offset, length, uint64(v)&mask(length))
}
