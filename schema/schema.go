// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package schema implements the type grammar of the protocol's message schema
// language, and the per-type metadata the code generator derives from it.
//
// The grammar comprises primitive scalar types (bool, int8, int16, uint16,
// int32, int64, uuid, float64), the variable-length types string, bytes, and
// records, arrays written "[]T", and named structured types identified by a
// capitalized name. Arrays of arrays are not expressible; nest a structured
// type instead.
package schema

import (
	"fmt"
	"strings"
)

// A Type describes one field type of the schema language.
type Type interface {
	// FixedLength reports the encoded size of the type in bytes, if the type
	// has a fixed-length encoding. Variable-length types report ok == false.
	FixedLength() (n int, ok bool)

	// FlexibleDiffers reports whether the wire encoding of the type changes
	// in flexible protocol versions.
	FlexibleDiffers() bool

	// CanBeNullable reports whether the type admits a null encoding.
	CanBeNullable() bool

	// String returns the name of the type as written in the schema language.
	String() string
}

// IsVariableLength reports whether t has a variable-length encoding.
func IsVariableLength(t Type) bool { _, ok := t.FixedLength(); return !ok }

// A Scalar is a primitive fixed-length type.
type Scalar struct {
	name string
	size int
}

func (s Scalar) FixedLength() (int, bool) { return s.size, true }
func (Scalar) FlexibleDiffers() bool      { return false }
func (Scalar) CanBeNullable() bool        { return false }
func (s Scalar) String() string           { return s.name }

// varLen is a primitive variable-length type (string, bytes, records).
type varLen struct {
	name     string
	nullable bool
}

func (varLen) FixedLength() (int, bool) { return 0, false }
func (varLen) FlexibleDiffers() bool    { return true }
func (v varLen) CanBeNullable() bool    { return v.nullable }
func (v varLen) String() string         { return v.name }

// The primitive types of the grammar.
var (
	Bool    = Scalar{"bool", 1}
	Int8    = Scalar{"int8", 1}
	Int16   = Scalar{"int16", 2}
	Uint16  = Scalar{"uint16", 2}
	Int32   = Scalar{"int32", 4}
	Int64   = Scalar{"int64", 8}
	UUID    = Scalar{"uuid", 16}
	Float64 = Scalar{"float64", 8}

	String  Type = varLen{"string", true}
	Bytes   Type = varLen{"bytes", true}
	Records Type = varLen{"records", true}
)

// A Struct is a named structured type.
type Struct struct {
	Name string
}

func (Struct) FixedLength() (int, bool) { return 0, false }
func (Struct) FlexibleDiffers() bool    { return true }
func (Struct) CanBeNullable() bool      { return false }
func (s Struct) String() string         { return s.Name }

// An Array is an array of some element type.
type Array struct {
	Element Type
}

func (Array) FixedLength() (int, bool) { return 0, false }
func (Array) FlexibleDiffers() bool    { return true }
func (Array) CanBeNullable() bool      { return true }
func (a Array) String() string         { return arrayPrefix + a.Element.String() }

// IsStructArray reports whether the element type of a is a structured type.
func (a Array) IsStructArray() bool { _, ok := a.Element.(Struct); return ok }

const arrayPrefix = "[]"

var primitives = map[string]Type{
	"bool": Bool, "int8": Int8, "int16": Int16, "uint16": Uint16,
	"int32": Int32, "int64": Int64, "uuid": UUID, "float64": Float64,
	"string": String, "bytes": Bytes, "records": Records,
}

// Parse parses a type written in the schema language.
func Parse(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if t, ok := primitives[s]; ok {
		return t, nil
	}
	if rest, ok := strings.CutPrefix(s, arrayPrefix); ok {
		if rest == "" {
			return nil, fmt.Errorf("parse type %q: no element type", s)
		}
		elem, err := Parse(rest)
		if err != nil {
			return nil, err
		}
		if _, ok := elem.(Array); ok {
			return nil, fmt.Errorf("parse type %q: arrays of arrays are not allowed", s)
		}
		return Array{Element: elem}, nil
	}
	if isCapitalized(s) {
		return Struct{Name: s}, nil
	}
	return nil, fmt.Errorf("parse type %q: unknown type", s)
}

func isCapitalized(s string) bool { return s != "" && s[0] >= 'A' && s[0] <= 'Z' }
