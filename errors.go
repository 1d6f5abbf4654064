// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package kproxy

import (
	"errors"
	"fmt"

	"github.com/kproxy-io/kproxy/wire"
)

var (
	// ErrUnmatchedResponse is reported when a response frame arrives whose
	// correlation id has no outstanding request. The frame is dropped rather
	// than forwarded.
	ErrUnmatchedResponse = errors.New("response does not match an outstanding request")

	// ErrDuplicateCorrelation is reported when a request reuses the
	// correlation id of a request still in flight. This indicates a protocol
	// or proxy bug and is fatal for the connection.
	ErrDuplicateCorrelation = errors.New("correlation id already in flight")

	// ErrConnClosed is reported by operations interrupted by connection
	// shutdown.
	ErrConnClosed = errors.New("connection closed")
)

// A DecodeError reports a frame whose bytes could not be interpreted. It is
// protocol fatal: the proxy cannot guarantee frame synchronization on the
// connection afterward.
type DecodeError struct {
	Dir Direction
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %v frame: %v", e.Dir, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// A FilterError reports a filter handler failure or the failure of a future a
// filter suspended on. It aborts chain processing for the frame that caused
// it.
type FilterError struct {
	Filter string // name of the failing filter
	Api    wire.ApiKey
	Err    error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %q (%v): %v", e.Filter, e.Api, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// A ChainConfigError reports a filter chain that cannot be constructed, for
// example a filter declaring an operation it has no handler for. It is
// detected before any traffic flows.
type ChainConfigError struct {
	Filter string
	Reason string
}

func (e *ChainConfigError) Error() string {
	return fmt.Sprintf("chain config: filter %q: %s", e.Filter, e.Reason)
}
