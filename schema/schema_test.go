// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package schema_test

import (
	"testing"

	"github.com/kproxy-io/kproxy/schema"
)

func TestParse(t *testing.T) {
	type props struct {
		fixed    int  // -1 for variable length
		flexible bool // encoding differs in flexible versions
		nullable bool
	}
	tests := []struct {
		input string
		want  props
	}{
		{"bool", props{1, false, false}},
		{"int8", props{1, false, false}},
		{"int16", props{2, false, false}},
		{"uint16", props{2, false, false}},
		{"int32", props{4, false, false}},
		{"int64", props{8, false, false}},
		{"uuid", props{16, false, false}},
		{"float64", props{8, false, false}},
		{"string", props{-1, true, true}},
		{"bytes", props{-1, true, true}},
		{"records", props{-1, true, true}},
		{"TopicData", props{-1, true, false}},
		{"[]int32", props{-1, true, true}},
		{"[]TopicData", props{-1, true, true}},
		{"  int64  ", props{8, false, false}}, // surrounding space is ignored
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			typ, err := schema.Parse(tc.input)
			if err != nil {
				t.Fatalf("Parse(%q): unexpected error: %v", tc.input, err)
			}
			n, ok := typ.FixedLength()
			if !ok {
				n = -1
			}
			got := props{n, typ.FlexibleDiffers(), typ.CanBeNullable()}
			if got != tc.want {
				t.Errorf("Parse(%q): got %+v, want %+v", tc.input, got, tc.want)
			}
			if schema.IsVariableLength(typ) == ok {
				t.Errorf("Parse(%q): IsVariableLength inconsistent with FixedLength", tc.input)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",          // empty input
		"[]",        // array with no element
		"[][]int32", // array of arrays
		"[][]Topic", // array of arrays (struct element)
		"lowercase", // not primitive, not capitalized
		"int128",    // unknown primitive
		"?string",   // nullability is per-field metadata, not a type prefix
	}
	for _, input := range tests {
		if typ, err := schema.Parse(input); err == nil {
			t.Errorf("Parse(%q): got %v, want error", input, typ)
		}
	}
}

func TestStructArray(t *testing.T) {
	typ, err := schema.Parse("[]PartitionData")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	arr, ok := typ.(schema.Array)
	if !ok {
		t.Fatalf("Parse: got %T, want schema.Array", typ)
	}
	if !arr.IsStructArray() {
		t.Error("IsStructArray: got false, want true")
	}

	scalars, err := schema.Parse("[]uuid")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if scalars.(schema.Array).IsStructArray() {
		t.Error("IsStructArray on []uuid: got true, want false")
	}
}

func TestRoundTripNames(t *testing.T) {
	for _, name := range []string{"bool", "uuid", "[]string", "[]Batch", "Batch"} {
		typ, err := schema.Parse(name)
		if err != nil {
			t.Errorf("Parse(%q): %v", name, err)
			continue
		}
		if got := typ.String(); got != name {
			t.Errorf("String: got %q, want %q", got, name)
		}
	}
}
