// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package kproxy

import (
	"fmt"

	"github.com/kproxy-io/kproxy/codec"
	"github.com/kproxy-io/kproxy/wire"
)

// A Direction distinguishes request and response traffic.
type Direction int

const (
	DirRequest Direction = iota
	DirResponse
)

func (d Direction) String() string {
	if d == DirRequest {
		return "request"
	}
	return "response"
}

// Request frame payloads begin with the API key (2 bytes) and API version
// (2 bytes); the correlation id follows at a fixed offset. Response payloads
// begin with the correlation id.
const (
	reqHeaderLen        = 8 // api key, api version, correlation id
	reqCorrelationStart = 4
	rspHeaderLen        = 4 // correlation id
)

// A Frame is one unit of protocol traffic, either opaque (raw bytes) or
// decoded (typed body). Every frame knows its correlation id and direction,
// and can produce the wire form of its payload, excluding the outer size
// prefix.
type Frame interface {
	// CorrelationID reports the integer tag linking a request to its response.
	CorrelationID() int32

	// Length reports the declared byte length of the frame payload.
	Length() int

	// Direction reports whether the frame is a request or a response.
	Direction() Direction

	// Encode returns the wire form of the frame payload. For opaque frames
	// this is the stored bytes; decoded frames are re-encoded by the codec.
	Encode() ([]byte, error)
}

// An OpaqueRequest is a request frame kept as raw bytes. Beyond the fixed
// header fields it never interprets its payload.
type OpaqueRequest struct {
	payload        []byte
	correlationID  int32
	decodeResponse bool
}

// ParseOpaqueRequest wraps a raw request payload, reading the correlation id
// from its fixed offset. decodeResponse records whether the eventual response
// must be decoded. A payload too short for the request header is a hard
// decode failure.
func ParseOpaqueRequest(payload []byte, decodeResponse bool) (*OpaqueRequest, error) {
	if len(payload) < reqHeaderLen {
		return nil, &DecodeError{Dir: DirRequest,
			Err: fmt.Errorf("short header (%d < %d bytes)", len(payload), reqHeaderLen)}
	}
	s := wire.NewScanner(payload[reqCorrelationStart:])
	corr, err := s.Int32()
	if err != nil {
		return nil, &DecodeError{Dir: DirRequest, Err: err}
	}
	return &OpaqueRequest{payload: payload, correlationID: corr, decodeResponse: decodeResponse}, nil
}

func (o *OpaqueRequest) CorrelationID() int32    { return o.correlationID }
func (o *OpaqueRequest) Length() int             { return len(o.payload) }
func (o *OpaqueRequest) Direction() Direction    { return DirRequest }
func (o *OpaqueRequest) Encode() ([]byte, error) { return o.payload, nil }

// DecodeResponse reports whether the response matching this request must be
// decoded when it arrives.
func (o *OpaqueRequest) DecodeResponse() bool { return o.decodeResponse }

// String renders the frame for diagnostics. It peeks at the API key and
// version through an independent cursor, so the stored payload and any shared
// read state are never disturbed; an API key unknown to this build renders as
// its raw value.
func (o *OpaqueRequest) String() string {
	s := wire.NewScanner(o.payload).Clone()
	rawKey, err := s.Int16()
	if err != nil {
		return fmt.Sprintf("OpaqueRequest(length=%d, corr=%d)", len(o.payload), o.correlationID)
	}
	ver, err := s.Int16()
	if err != nil {
		return fmt.Sprintf("OpaqueRequest(length=%d, corr=%d)", len(o.payload), o.correlationID)
	}
	return fmt.Sprintf("OpaqueRequest(length=%d, apiKey=%v, apiVersion=%d, corr=%d)",
		len(o.payload), wire.ApiKey(rawKey), ver, o.correlationID)
}

// An OpaqueResponse is a response frame kept as raw bytes.
type OpaqueResponse struct {
	payload       []byte
	correlationID int32
}

// ParseOpaqueResponse wraps a raw response payload, reading the correlation
// id from its fixed offset.
func ParseOpaqueResponse(payload []byte) (*OpaqueResponse, error) {
	if len(payload) < rspHeaderLen {
		return nil, &DecodeError{Dir: DirResponse,
			Err: fmt.Errorf("short header (%d < %d bytes)", len(payload), rspHeaderLen)}
	}
	corr, err := wire.NewScanner(payload).Int32()
	if err != nil {
		return nil, &DecodeError{Dir: DirResponse, Err: err}
	}
	return &OpaqueResponse{payload: payload, correlationID: corr}, nil
}

func (o *OpaqueResponse) CorrelationID() int32    { return o.correlationID }
func (o *OpaqueResponse) Length() int             { return len(o.payload) }
func (o *OpaqueResponse) Direction() Direction    { return DirResponse }
func (o *OpaqueResponse) Encode() ([]byte, error) { return o.payload, nil }

func (o *OpaqueResponse) String() string {
	return fmt.Sprintf("OpaqueResponse(length=%d, corr=%d)", len(o.payload), o.correlationID)
}

// A DecodedRequest is a request frame with a fully decoded body. The API key
// and version are fixed once decoded; filters may replace the body.
type DecodedRequest struct {
	Api     wire.ApiKey
	Version int16
	Header  codec.RequestHeader
	Body    codec.Message

	// WantDecodeResponse marks whether the response to this request must be
	// decoded. It is seeded from the response chain's interest and may be
	// raised by a filter that needs to see the response.
	WantDecodeResponse bool

	length int
}

// DecodeRequest decodes a raw request payload through the codec.
func DecodeRequest(payload []byte, decodeResponse bool) (*DecodedRequest, error) {
	key, ver, hdr, body, err := codec.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	return &DecodedRequest{
		Api:     key,
		Version: ver,
		Header:  hdr,
		Body:    body,

		WantDecodeResponse: decodeResponse,
		length:             len(payload),
	}, nil
}

func (d *DecodedRequest) CorrelationID() int32 { return d.Header.CorrelationID }
func (d *DecodedRequest) Length() int          { return d.length }
func (d *DecodedRequest) Direction() Direction { return DirRequest }

func (d *DecodedRequest) Encode() ([]byte, error) {
	return codec.EncodeRequest(d.Api, d.Version, d.Header, d.Body)
}

func (d *DecodedRequest) String() string {
	return fmt.Sprintf("DecodedRequest(apiKey=%v, apiVersion=%d, corr=%d)",
		d.Api, d.Version, d.Header.CorrelationID)
}

// A DecodedResponse is a response frame with a fully decoded body. The API
// key and version are inherited from the matching request's correlation
// entry, since responses do not repeat them on the wire.
type DecodedResponse struct {
	Api     wire.ApiKey
	Version int16
	Corr    int32
	Body    codec.Message

	length int
}

// DecodeResponse decodes a raw response payload through the codec, using the
// operation and version recorded for the matching request.
func DecodeResponse(api wire.ApiKey, version int16, payload []byte) (*DecodedResponse, error) {
	corr, body, err := codec.DecodeResponse(api, version, payload)
	if err != nil {
		return nil, err
	}
	return &DecodedResponse{Api: api, Version: version, Corr: corr, Body: body, length: len(payload)}, nil
}

func (d *DecodedResponse) CorrelationID() int32 { return d.Corr }
func (d *DecodedResponse) Length() int          { return d.length }
func (d *DecodedResponse) Direction() Direction { return DirResponse }

func (d *DecodedResponse) Encode() ([]byte, error) {
	return codec.EncodeResponse(d.Api, d.Version, d.Corr, d.Body)
}

func (d *DecodedResponse) String() string {
	return fmt.Sprintf("DecodedResponse(apiKey=%v, apiVersion=%d, corr=%d)",
		d.Api, d.Version, d.Corr)
}

// A RequestHeader carries the fixed header fields of a request frame.
type RequestHeader struct {
	Api           wire.ApiKey
	Version       int16
	CorrelationID int32
}

// ParseRequestHeader reads the fixed header of a raw request payload.
func ParseRequestHeader(payload []byte) (RequestHeader, error) {
	var hdr RequestHeader
	if len(payload) < reqHeaderLen {
		return hdr, &DecodeError{Dir: DirRequest,
			Err: fmt.Errorf("short header (%d < %d bytes)", len(payload), reqHeaderLen)}
	}
	s := wire.NewScanner(payload)
	rawKey, err := s.Int16()
	if err != nil {
		return hdr, &DecodeError{Dir: DirRequest, Err: err}
	}
	hdr.Api = wire.ApiKey(rawKey)
	if hdr.Version, err = s.Int16(); err != nil {
		return hdr, &DecodeError{Dir: DirRequest, Err: err}
	}
	if hdr.CorrelationID, err = s.Int32(); err != nil {
		return hdr, &DecodeError{Dir: DirRequest, Err: err}
	}
	return hdr, nil
}

// ParseResponseCorrelation reads the correlation id of a raw response payload.
func ParseResponseCorrelation(payload []byte) (int32, error) {
	if len(payload) < rspHeaderLen {
		return 0, &DecodeError{Dir: DirResponse,
			Err: fmt.Errorf("short header (%d < %d bytes)", len(payload), rspHeaderLen)}
	}
	id, err := wire.NewScanner(payload).Int32()
	if err != nil {
		return 0, &DecodeError{Dir: DirResponse, Err: err}
	}
	return id, nil
}
