// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package codec implements the message-body serialization contract consumed
// by the proxy pipeline. The pipeline treats this package as an external
// collaborator: it selects a codec by API key and version and otherwise never
// interprets body bytes itself.
//
// Each supported operation registers a body codec describing how to decode
// and encode its request and response bodies, and from which version the
// operation uses the flexible (compact, tagged-field) encoding. The message
// set maintained here stands in for generated code.
package codec

import (
	"errors"
	"fmt"

	"github.com/kproxy-io/kproxy/wire"
)

// ErrUnsupported is reported when no codec is registered for an API key, or
// when a registered codec does not cover the requested version.
var ErrUnsupported = errors.New("unsupported operation")

// A Message is a decoded request or response body.
type Message interface {
	// Api reports the operation the message belongs to.
	Api() wire.ApiKey
}

// A RequestHeader carries the header fields of a request frame that are not
// part of the message body.
type RequestHeader struct {
	CorrelationID int32
	ClientID      *string
}

// A bodyCodec describes the wire format of one operation across versions.
type bodyCodec struct {
	minVersion  int16
	maxVersion  int16
	flexVersion int16 // first flexible version; no flexible versions if < 0

	decodeRequest  func(s *wire.Scanner, ver int16) (Message, error)
	encodeRequest  func(b *wire.Builder, m Message, ver int16) error
	decodeResponse func(s *wire.Scanner, ver int16) (Message, error)
	encodeResponse func(b *wire.Builder, m Message, ver int16) error
}

func (c bodyCodec) flexible(ver int16) bool { return c.flexVersion >= 0 && ver >= c.flexVersion }

var registry = map[wire.ApiKey]bodyCodec{
	wire.ApiVersions:      apiVersionsCodec,
	wire.Metadata:         metadataCodec,
	wire.SaslAuthenticate: saslAuthenticateCodec,
}

func lookup(key wire.ApiKey, ver int16) (bodyCodec, error) {
	c, ok := registry[key]
	if !ok {
		return bodyCodec{}, fmt.Errorf("%w: %v", ErrUnsupported, key)
	}
	if ver < c.minVersion || ver > c.maxVersion {
		return bodyCodec{}, fmt.Errorf("%w: %v v%d", ErrUnsupported, key, ver)
	}
	return c, nil
}

// Supports reports whether a codec is registered for the given operation and
// version.
func Supports(key wire.ApiKey, ver int16) bool {
	_, err := lookup(key, ver)
	return err == nil
}

// DecodeRequest decodes a complete request payload (header and body) for the
// operation identified by its leading header fields. The payload excludes the
// outer size prefix.
func DecodeRequest(payload []byte) (wire.ApiKey, int16, RequestHeader, Message, error) {
	s := wire.NewScanner(payload)
	rawKey, err := s.Int16()
	if err != nil {
		return 0, 0, RequestHeader{}, nil, fmt.Errorf("request header: %w", err)
	}
	key := wire.ApiKey(rawKey)
	ver, err := s.Int16()
	if err != nil {
		return key, 0, RequestHeader{}, nil, fmt.Errorf("request header: %w", err)
	}
	c, err := lookup(key, ver)
	if err != nil {
		return key, ver, RequestHeader{}, nil, err
	}

	var hdr RequestHeader
	if hdr.CorrelationID, err = s.Int32(); err != nil {
		return key, ver, hdr, nil, fmt.Errorf("request header: %w", err)
	}
	// The client ID keeps its unprefixed form even in flexible versions.
	if hdr.ClientID, err = s.NullableString(); err != nil {
		return key, ver, hdr, nil, fmt.Errorf("request header: %w", err)
	}
	if c.flexible(ver) {
		if err := s.SkipTaggedFields(); err != nil {
			return key, ver, hdr, nil, fmt.Errorf("request header: %w", err)
		}
	}

	body, err := c.decodeRequest(s, ver)
	if err != nil {
		return key, ver, hdr, nil, fmt.Errorf("decode %v v%d request: %w", key, ver, err)
	}
	return key, ver, hdr, body, nil
}

// EncodeRequest encodes a request header and body into a frame payload
// (excluding the outer size prefix).
func EncodeRequest(key wire.ApiKey, ver int16, hdr RequestHeader, body Message) ([]byte, error) {
	c, err := lookup(key, ver)
	if err != nil {
		return nil, err
	}
	var b wire.Builder
	b.Int16(int16(key))
	b.Int16(ver)
	b.Int32(hdr.CorrelationID)
	b.NullableString(hdr.ClientID)
	if c.flexible(ver) {
		b.EmptyTaggedFields()
	}
	if err := c.encodeRequest(&b, body, ver); err != nil {
		return nil, fmt.Errorf("encode %v v%d request: %w", key, ver, err)
	}
	return b.Bytes(), nil
}

// DecodeResponse decodes a complete response payload (header and body) for
// the given operation and version, which the caller supplies from the
// matching request since responses do not repeat them on the wire.
func DecodeResponse(key wire.ApiKey, ver int16, payload []byte) (int32, Message, error) {
	c, err := lookup(key, ver)
	if err != nil {
		return 0, nil, err
	}
	s := wire.NewScanner(payload)
	corr, err := s.Int32()
	if err != nil {
		return 0, nil, fmt.Errorf("response header: %w", err)
	}
	if c.flexible(ver) {
		if err := s.SkipTaggedFields(); err != nil {
			return corr, nil, fmt.Errorf("response header: %w", err)
		}
	}
	body, err := c.decodeResponse(s, ver)
	if err != nil {
		return corr, nil, fmt.Errorf("decode %v v%d response: %w", key, ver, err)
	}
	return corr, body, nil
}

// EncodeResponse encodes a response header and body into a frame payload
// (excluding the outer size prefix).
func EncodeResponse(key wire.ApiKey, ver int16, correlationID int32, body Message) ([]byte, error) {
	c, err := lookup(key, ver)
	if err != nil {
		return nil, err
	}
	var b wire.Builder
	b.Int32(correlationID)
	if c.flexible(ver) {
		b.EmptyTaggedFields()
	}
	if err := c.encodeResponse(&b, body, ver); err != nil {
		return nil, fmt.Errorf("encode %v v%d response: %w", key, ver, err)
	}
	return b.Bytes(), nil
}

// wrongBody constructs the error reported when a codec is handed a body of
// the wrong concrete type.
func wrongBody(want string, got Message) error {
	return fmt.Errorf("body has type %T, want %s", got, want)
}
