// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package wire_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/kproxy-io/kproxy/wire"
)

func TestScalars(t *testing.T) {
	var b wire.Builder
	b.Bool(true)
	b.Int8(-5)
	b.Int16(-300)
	b.Uint16(65000)
	b.Int32(-70000)
	b.Int64(1 << 40)
	b.Float64(6.25)

	s := wire.NewScanner(b.Bytes())
	if v, err := s.Bool(); err != nil || v != true {
		t.Errorf("Bool: got %v, %v", v, err)
	}
	if v, err := s.Int8(); err != nil || v != -5 {
		t.Errorf("Int8: got %v, %v", v, err)
	}
	if v, err := s.Int16(); err != nil || v != -300 {
		t.Errorf("Int16: got %v, %v", v, err)
	}
	if v, err := s.Uint16(); err != nil || v != 65000 {
		t.Errorf("Uint16: got %v, %v", v, err)
	}
	if v, err := s.Int32(); err != nil || v != -70000 {
		t.Errorf("Int32: got %v, %v", v, err)
	}
	if v, err := s.Int64(); err != nil || v != 1<<40 {
		t.Errorf("Int64: got %v, %v", v, err)
	}
	if v, err := s.Float64(); err != nil || v != 6.25 {
		t.Errorf("Float64: got %v, %v", v, err)
	}
	if s.Len() != 0 {
		t.Errorf("Scanner has %d leftover bytes", s.Len())
	}
}

func TestUUID(t *testing.T) {
	id := uuid.MustParse("b8f9a1d2-4c6e-4a0f-9b31-58c1d2e3f405")

	var b wire.Builder
	b.UUID(id)
	got, err := wire.NewScanner(b.Bytes()).UUID()
	if err != nil || got != id {
		t.Errorf("UUID: got %v, %v; want %v", got, err, id)
	}
}

func TestStrings(t *testing.T) {
	null := (*string)(nil)
	some := "borogoves"

	var b wire.Builder
	b.String("mimsy")
	b.NullableString(null)
	b.NullableString(&some)
	b.CompactString("outgrabe")
	b.CompactNullableString(null)
	b.CompactNullableString(&some)

	s := wire.NewScanner(b.Bytes())
	if v, err := s.String(); err != nil || v != "mimsy" {
		t.Errorf("String: got %q, %v", v, err)
	}
	if v, err := s.NullableString(); err != nil || v != nil {
		t.Errorf("NullableString: got %v, %v; want nil", v, err)
	}
	if v, err := s.NullableString(); err != nil || v == nil || *v != some {
		t.Errorf("NullableString: got %v, %v; want %q", v, err, some)
	}
	if v, err := s.CompactString(); err != nil || v != "outgrabe" {
		t.Errorf("CompactString: got %q, %v", v, err)
	}
	if v, err := s.CompactNullableString(); err != nil || v != nil {
		t.Errorf("CompactNullableString: got %v, %v; want nil", v, err)
	}
	if v, err := s.CompactNullableString(); err != nil || v == nil || *v != some {
		t.Errorf("CompactNullableString: got %v, %v; want %q", v, err, some)
	}
}

func TestBytes(t *testing.T) {
	var b wire.Builder
	b.PutBytes(nil)
	b.PutBytes([]byte("raths"))
	b.CompactBytes(nil)
	b.CompactBytes([]byte("toves"))

	s := wire.NewScanner(b.Bytes())
	if v, err := s.Bytes(); err != nil || v != nil {
		t.Errorf("Bytes: got %v, %v; want nil", v, err)
	}
	if v, err := s.Bytes(); err != nil || string(v) != "raths" {
		t.Errorf("Bytes: got %q, %v", v, err)
	}
	if v, err := s.CompactBytes(); err != nil || v != nil {
		t.Errorf("CompactBytes: got %v, %v; want nil", v, err)
	}
	if v, err := s.CompactBytes(); err != nil || string(v) != "toves" {
		t.Errorf("CompactBytes: got %q, %v", v, err)
	}
}

func TestArrayLens(t *testing.T) {
	var b wire.Builder
	b.ArrayLen(-1)
	b.ArrayLen(3)
	b.CompactArrayLen(-1)
	b.CompactArrayLen(3)
	b.Put(0, 0, 0) // element data for the declared length

	s := wire.NewScanner(b.Bytes())
	for i, want := range []int{-1, 3, -1, 3} {
		var got int
		var err error
		if i < 2 {
			got, err = s.ArrayLen()
		} else {
			got, err = s.CompactArrayLen()
		}
		if err != nil || got != want {
			t.Errorf("ArrayLen %d: got %d, %v; want %d", i, got, err, want)
		}
	}
}

func TestTruncation(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		scan  func(*wire.Scanner) error
	}{
		{"Int32", []byte{1, 2}, func(s *wire.Scanner) error { _, err := s.Int32(); return err }},
		{"Int64", []byte{1, 2, 3}, func(s *wire.Scanner) error { _, err := s.Int64(); return err }},
		{"UUID", []byte{1}, func(s *wire.Scanner) error { _, err := s.UUID(); return err }},
		{"String", []byte{0, 9, 'x'}, func(s *wire.Scanner) error { _, err := s.String(); return err }},
		{"CompactString", []byte{9, 'x'}, func(s *wire.Scanner) error { _, err := s.CompactString(); return err }},
		{"Uvarint", []byte{0x80}, func(s *wire.Scanner) error { _, err := s.Uvarint(); return err }},
		{"Tagged", []byte{1, 0, 5, 'x'}, func(s *wire.Scanner) error { return s.SkipTaggedFields() }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.scan(wire.NewScanner(tc.input))
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("Got error %v, want io.ErrUnexpectedEOF", err)
			}
		})
	}
}

func TestCloneDoesNotDisturb(t *testing.T) {
	var b wire.Builder
	b.Int16(int16(wire.Metadata))
	b.Int16(4)
	b.Int32(12345)

	s := wire.NewScanner(b.Bytes())

	// Peek through a clone, then verify the original is untouched.
	peek := s.Clone()
	if v, err := peek.Int16(); err != nil || wire.ApiKey(v) != wire.Metadata {
		t.Errorf("Peek api key: got %v, %v", v, err)
	}
	if v, err := peek.Int16(); err != nil || v != 4 {
		t.Errorf("Peek api version: got %v, %v", v, err)
	}

	if s.Offset() != 0 {
		t.Errorf("Original offset moved to %d, want 0", s.Offset())
	}
	if diff := cmp.Diff(b.Bytes(), s.Rest()); diff != "" {
		t.Errorf("Original rest (-want, +got):\n%s", diff)
	}
}

func TestSkipTaggedFields(t *testing.T) {
	var b wire.Builder
	b.Uvarint(2)         // two tagged fields
	b.Uvarint(0)         // tag 0
	b.Uvarint(3)         // size
	b.Put('a', 'b', 'c') // data
	b.Uvarint(7)         // tag 7
	b.Uvarint(1)         // size
	b.Put('z')           // data
	b.Int32(99)          // trailing field after the section

	s := wire.NewScanner(b.Bytes())
	if err := s.SkipTaggedFields(); err != nil {
		t.Fatalf("SkipTaggedFields: %v", err)
	}
	if v, err := s.Int32(); err != nil || v != 99 {
		t.Errorf("Trailing field: got %v, %v; want 99", v, err)
	}
}

func TestCompactLengthOverflow(t *testing.T) {
	// A maximal uvarint (2^64-1) decodes to a length whose int conversion
	// would go negative. It must surface as a truncation error, not a panic.
	huge := append(bytes.Repeat([]byte{0xff}, 9), 0x01)

	t.Run("CompactBytes", func(t *testing.T) {
		if v, err := wire.NewScanner(huge).CompactBytes(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("CompactBytes: got %v, %v; want %v", v, err, io.ErrUnexpectedEOF)
		}
	})
	t.Run("CompactNullableString", func(t *testing.T) {
		if v, err := wire.NewScanner(huge).CompactNullableString(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("CompactNullableString: got %v, %v; want %v", v, err, io.ErrUnexpectedEOF)
		}
	})
	t.Run("CompactArrayLen", func(t *testing.T) {
		if n, err := wire.NewScanner(huge).CompactArrayLen(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("CompactArrayLen: got %d, %v; want %v", n, err, io.ErrUnexpectedEOF)
		}
	})
	t.Run("ModestOverrun", func(t *testing.T) {
		// A small length that exceeds the remaining input errs the same way.
		if _, err := wire.NewScanner([]byte{10, 'a', 'b'}).CompactBytes(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("CompactBytes: got error %v; want %v", err, io.ErrUnexpectedEOF)
		}
	})
	t.Run("TaggedFieldSize", func(t *testing.T) {
		in := append([]byte{1, 0}, huge...) // one field, tag 0, oversized size
		if err := wire.NewScanner(in).SkipTaggedFields(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("SkipTaggedFields: got %v; want %v", err, io.ErrUnexpectedEOF)
		}
	})
}

func TestApiKeyString(t *testing.T) {
	if got := wire.Metadata.String(); got != "METADATA" {
		t.Errorf("Metadata: got %q", got)
	}
	if got := wire.ApiKey(9999).String(); got != "API:9999" {
		t.Errorf("Unknown key: got %q", got)
	}
	if wire.ApiKey(9999).Known() {
		t.Error("ApiKey 9999 reported as known")
	}
}
