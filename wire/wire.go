// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package wire provides support for encoding and decoding the binary
// primitives of the proxied protocol, including the "compact" forms used by
// flexible protocol versions.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/creachadair/mds/value"
	"github.com/google/uuid"
)

// A Builder is a buffer that accumulates the encoded fields of a frame. The
// zero value is ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Bool appends a Boolean to b. The encoding is a single byte with value 0 or 1.
func (b *Builder) Bool(ok bool) { b.Put(value.Cond[byte](ok, 1, 0)) }

// Put appends the specified bytes to b in order.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// Int8 appends v to b as a single byte.
func (b *Builder) Int8(v int8) { b.Put(byte(v)) }

// Int16 appends v to b in big-endian order.
func (b *Builder) Int16(v int16) { b.buf = binary.BigEndian.AppendUint16(b.buf, uint16(v)) }

// Uint16 appends v to b in big-endian order.
func (b *Builder) Uint16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }

// Int32 appends v to b in big-endian order.
func (b *Builder) Int32(v int32) { b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(v)) }

// Int64 appends v to b in big-endian order.
func (b *Builder) Int64(v int64) { b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v)) }

// Float64 appends v to b as a big-endian IEEE 754 value.
func (b *Builder) Float64(v float64) {
	b.buf = binary.BigEndian.AppendUint64(b.buf, math.Float64bits(v))
}

// UUID appends the 16 bytes of v to b.
func (b *Builder) UUID(v uuid.UUID) { b.buf = append(b.buf, v[:]...) }

// Uvarint appends v to b as an unsigned varint.
func (b *Builder) Uvarint(v uint64) { b.buf = binary.AppendUvarint(b.buf, v) }

// Varint appends v to b as a zigzag-encoded signed varint.
func (b *Builder) Varint(v int64) { b.buf = binary.AppendVarint(b.buf, v) }

// String appends a string to b with a 2-byte length prefix.
// A nil marker cannot be expressed in this form; use NullableString.
func (b *Builder) String(s string) {
	b.Int16(int16(len(s)))
	b.buf = append(b.buf, s...)
}

// NullableString appends a string to b with a 2-byte length prefix, where a
// nil pointer is encoded with length -1.
func (b *Builder) NullableString(s *string) {
	if s == nil {
		b.Int16(-1)
		return
	}
	b.String(*s)
}

// CompactString appends a string to b in compact form: an unsigned varint
// holding length+1, followed by the string bytes.
func (b *Builder) CompactString(s string) {
	b.Uvarint(uint64(len(s)) + 1)
	b.buf = append(b.buf, s...)
}

// CompactNullableString appends a string in compact form, where a nil pointer
// is encoded as length marker 0.
func (b *Builder) CompactNullableString(s *string) {
	if s == nil {
		b.Uvarint(0)
		return
	}
	b.CompactString(*s)
}

// PutBytes appends a byte string to b with a 4-byte length prefix, where nil
// is encoded with length -1.
func (b *Builder) PutBytes(v []byte) {
	if v == nil {
		b.Int32(-1)
		return
	}
	b.Int32(int32(len(v)))
	b.buf = append(b.buf, v...)
}

// CompactBytes appends a byte string to b in compact form: an unsigned varint
// holding length+1, followed by the bytes. A nil slice is encoded as marker 0.
func (b *Builder) CompactBytes(v []byte) {
	if v == nil {
		b.Uvarint(0)
		return
	}
	b.Uvarint(uint64(len(v)) + 1)
	b.buf = append(b.buf, v...)
}

// ArrayLen appends an array length to b as a 4-byte value, where -1 encodes a
// nil array.
func (b *Builder) ArrayLen(n int) { b.Int32(int32(n)) }

// CompactArrayLen appends an array length to b in compact form (n+1 as an
// unsigned varint), where marker 0 encodes a nil array.
func (b *Builder) CompactArrayLen(n int) {
	if n < 0 {
		b.Uvarint(0)
		return
	}
	b.Uvarint(uint64(n) + 1)
}

// EmptyTaggedFields appends an empty tagged-field section to b.
func (b *Builder) EmptyTaggedFields() { b.Uvarint(0) }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the reported slice, and the caller must not retain or modify
// its contents unless b will no longer be accessed.
func (b *Builder) Bytes() []byte { return b.buf }

// Reset discards the contents of b and leaves it empty.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// A Scanner reads encoded fields from the contents of a frame payload.
// Incomplete values report an error wrapping [io.ErrUnexpectedEOF].
type Scanner struct {
	rest   []byte
	offset int
}

// NewScanner constructs a Scanner that consumes data from input. The scanner
// does not modify the contents of input, but retains slices into it, so the
// caller should ensure it is not modified while the scanner is in use.
func NewScanner(input []byte) *Scanner { return &Scanner{rest: input} }

// Clone returns an independent scanner at the same position as s. Advancing
// the clone does not affect s, which makes it safe to peek at fields for
// diagnostics without disturbing the shared read position.
func (s *Scanner) Clone() *Scanner { return &Scanner{rest: s.rest, offset: s.offset} }

// Len reports the number of remaining unconsumed input bytes in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset (0-based) of the next unconsumed input byte in s.
func (s *Scanner) Offset() int { return s.offset }

// Rest returns a slice of the remaining unconsumed input of s. The reported
// slice aliases the input and the caller must not modify its contents.
func (s *Scanner) Rest() []byte { return s.rest }

func (s *Scanner) take(n int) ([]byte, error) {
	if len(s.rest) < n {
		return nil, fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	out := s.rest[:n]
	s.rest = s.rest[n:]
	s.offset += n
	return out, nil
}

// Bool scans a single byte from the head of the input and converts it into a
// Boolean value (0 means false, non-zero means true).
func (s *Scanner) Bool() (bool, error) {
	v, err := s.take(1)
	if err != nil {
		return false, err
	}
	return v[0] != 0, nil
}

// Int8 scans a single byte from the head of the input.
func (s *Scanner) Int8() (int8, error) {
	v, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return int8(v[0]), nil
}

// Int16 parses a big-endian int16 value from the head of the input.
func (s *Scanner) Int16() (int16, error) {
	v, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(v)), nil
}

// Uint16 parses a big-endian uint16 value from the head of the input.
func (s *Scanner) Uint16() (uint16, error) {
	v, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v), nil
}

// Int32 parses a big-endian int32 value from the head of the input.
func (s *Scanner) Int32() (int32, error) {
	v, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(v)), nil
}

// Int64 parses a big-endian int64 value from the head of the input.
func (s *Scanner) Int64() (int64, error) {
	v, err := s.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

// Float64 parses a big-endian IEEE 754 value from the head of the input.
func (s *Scanner) Float64() (float64, error) {
	v, err := s.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(v)), nil
}

// UUID parses a 16-byte UUID from the head of the input.
func (s *Scanner) UUID() (uuid.UUID, error) {
	v, err := s.take(16)
	if err != nil {
		return uuid.Nil, err
	}
	var out uuid.UUID
	copy(out[:], v)
	return out, nil
}

// Uvarint parses an unsigned varint from the head of the input.
func (s *Scanner) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(s.rest)
	if n <= 0 {
		return 0, fmt.Errorf("invalid varint: %w", io.ErrUnexpectedEOF)
	}
	s.rest = s.rest[n:]
	s.offset += n
	return v, nil
}

// Varint parses a zigzag-encoded signed varint from the head of the input.
func (s *Scanner) Varint() (int64, error) {
	v, n := binary.Varint(s.rest)
	if n <= 0 {
		return 0, fmt.Errorf("invalid varint: %w", io.ErrUnexpectedEOF)
	}
	s.rest = s.rest[n:]
	s.offset += n
	return v, nil
}

// String parses a string with a 2-byte length prefix from the head of the
// input. A length of -1 reports an error; use NullableString for fields that
// admit null.
func (s *Scanner) String() (string, error) {
	v, err := s.NullableString()
	if err != nil {
		return "", err
	} else if v == nil {
		return "", fmt.Errorf("unexpected null string")
	}
	return *v, nil
}

// NullableString parses a string with a 2-byte length prefix from the head of
// the input, where length -1 yields nil.
func (s *Scanner) NullableString() (*string, error) {
	n, err := s.Int16()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	v, err := s.take(int(n))
	if err != nil {
		return nil, err
	}
	out := string(v)
	return &out, nil
}

// CompactString parses a compact-form string from the head of the input.
// The null marker reports an error; use CompactNullableString for fields that
// admit null.
func (s *Scanner) CompactString() (string, error) {
	v, err := s.CompactNullableString()
	if err != nil {
		return "", err
	} else if v == nil {
		return "", fmt.Errorf("unexpected null string")
	}
	return *v, nil
}

// compactLen parses a compact length marker from the head of the input and
// reports the decoded length, -1 for the null marker. A length that exceeds
// the remaining input is reported as an error before conversion, so a
// malformed varint cannot smuggle in a negative or truncated count.
func (s *Scanner) compactLen() (int, error) {
	n, err := s.Uvarint()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return -1, nil
	}
	if n-1 > uint64(len(s.rest)) {
		return 0, fmt.Errorf("compact length %d exceeds input (%d bytes): %w",
			n-1, len(s.rest), io.ErrUnexpectedEOF)
	}
	return int(n - 1), nil
}

// CompactNullableString parses a compact-form string from the head of the
// input, where marker 0 yields nil.
func (s *Scanner) CompactNullableString() (*string, error) {
	n, err := s.compactLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	v, err := s.take(n)
	if err != nil {
		return nil, err
	}
	out := string(v)
	return &out, nil
}

// Bytes parses a byte string with a 4-byte length prefix from the head of the
// input, where length -1 yields nil. The result aliases the input.
func (s *Scanner) Bytes() ([]byte, error) {
	n, err := s.Int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	return s.take(int(n))
}

// CompactBytes parses a compact-form byte string from the head of the input,
// where marker 0 yields nil. The result aliases the input.
func (s *Scanner) CompactBytes() ([]byte, error) {
	n, err := s.compactLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	return s.take(n)
}

// ArrayLen parses a 4-byte array length from the head of the input, where -1
// encodes a nil array.
func (s *Scanner) ArrayLen() (int, error) {
	n, err := s.Int32()
	return int(n), err
}

// CompactArrayLen parses a compact-form array length from the head of the
// input, reporting -1 for a nil array. Every array element occupies at least
// one input byte, so a length beyond the remaining input is an error.
func (s *Scanner) CompactArrayLen() (int, error) { return s.compactLen() }

// SkipTaggedFields consumes a tagged-field section from the head of the
// input, discarding its contents.
func (s *Scanner) SkipTaggedFields() error {
	n, err := s.Uvarint()
	if err != nil {
		return err
	}
	for range n {
		if _, err := s.Uvarint(); err != nil { // tag
			return err
		}
		size, err := s.Uvarint()
		if err != nil {
			return err
		}
		if size > uint64(len(s.rest)) {
			return fmt.Errorf("tagged field size %d exceeds input (%d bytes): %w",
				size, len(s.rest), io.ErrUnexpectedEOF)
		}
		if _, err := s.take(int(size)); err != nil {
			return err
		}
	}
	return nil
}
