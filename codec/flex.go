// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package codec

import "github.com/kproxy-io/kproxy/wire"

// Helpers selecting between the standard and compact encodings of the
// variable-length types, depending on whether the version in play is
// flexible.

func putString(b *wire.Builder, v string, flex bool) {
	if flex {
		b.CompactString(v)
	} else {
		b.String(v)
	}
}

func getString(s *wire.Scanner, flex bool) (string, error) {
	if flex {
		return s.CompactString()
	}
	return s.String()
}

func putNullableString(b *wire.Builder, v *string, flex bool) {
	if flex {
		b.CompactNullableString(v)
	} else {
		b.NullableString(v)
	}
}

func getNullableString(s *wire.Scanner, flex bool) (*string, error) {
	if flex {
		return s.CompactNullableString()
	}
	return s.NullableString()
}

func putBytes(b *wire.Builder, v []byte, flex bool) {
	if flex {
		b.CompactBytes(v)
	} else {
		b.PutBytes(v)
	}
}

func getBytes(s *wire.Scanner, flex bool) ([]byte, error) {
	if flex {
		return s.CompactBytes()
	}
	return s.Bytes()
}

func putArrayLen(b *wire.Builder, n int, flex bool) {
	if flex {
		b.CompactArrayLen(n)
	} else {
		b.ArrayLen(n)
	}
}

func getArrayLen(s *wire.Scanner, flex bool) (int, error) {
	if flex {
		return s.CompactArrayLen()
	}
	return s.ArrayLen()
}

func putTags(b *wire.Builder, flex bool) {
	if flex {
		b.EmptyTaggedFields()
	}
}

func skipTags(s *wire.Scanner, flex bool) error {
	if flex {
		return s.SkipTaggedFields()
	}
	return nil
}
