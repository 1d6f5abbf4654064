// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package kproxy implements an intercepting proxy for a binary
// request/response wire protocol.
//
// The proxy sits between a client and an upstream broker and relays frames
// between them over a pair of reliable channels. Each frame carries an
// integer correlation id linking a request to its response; the proxy tracks
// outstanding requests so that response traffic can be matched back to the
// operation and protocol version that produced it.
//
// # Connections
//
// The core type defined by this package is the [Conn]. A Conn pumps frames
// in both directions between a client channel and an upstream channel,
// running each frame through a filter chain before forwarding it.
//
// To create a new, unstarted connection with its filter chains:
//
//	reqc, err := kproxy.NewChain(f1, f2)
//	...
//	c := kproxy.NewConn(reqc, rspc)
//
// To start the pump routines, call the Start method with the two channels:
//
//	c.Start(client, upstream)
//
// The connection runs until [Conn.Stop] is called, either channel is closed,
// or a protocol fatal error occurs. Call [Conn.Wait] to wait for the
// connection to exit and return its status:
//
//	if err := c.Wait(); err != nil {
//	   log.Fatalf("Connection failed: %v", err)
//	}
//
// # Channels
//
// The [Channel] interface defines the ability to send and receive frame
// payloads. A Channel implementation must allow concurrent use by one sender
// and one receiver. The channel package provides some basic implementations
// of this interface.
//
// # Frames
//
// A [Frame] is one unit of traffic in either direction. Frames travel in one
// of two states: opaque, where only the fixed header fields are read and the
// payload is relayed as stored bytes, or decoded, where the body has been
// unmarshaled into a typed message from the codec package. A frame is only
// decoded when at least one filter in the chain asks for its operation; all
// other traffic takes the opaque fast path.
//
// # Filters
//
// A [Filter] inspects or rewrites decoded frames. Filters declare interest
// in specific operations by implementing the typed per-operation interfaces
// (for example [MetadataResponseFilter]), or in everything they can decode
// via [RequestFilter] and [ResponseFilter] with a decode policy. Dispatch is
// resolved once when the chain is built, not per frame.
//
// Each filter invocation returns a [Verdict]: forward the frame unchanged,
// replace it, terminate the chain and forward immediately, or suspend until
// a future resolves. Suspension parks the connection's pump goroutine, so
// frames in the same direction never overtake one another.
//
// Chains are built with [NewChain] and attached to a connection at
// construction. A filter may claim an operation exclusively; NewChain reports
// an error if two filters claim the same one.
package kproxy
