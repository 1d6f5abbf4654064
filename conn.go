// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package kproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	"github.com/kproxy-io/kproxy/codec"
	"github.com/kproxy-io/kproxy/future"
)

// A Channel is a reliable ordered stream of frame payloads shared with a
// client or an upstream. Payloads exclude the outer size prefix.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the payload in binary format to the receiver.
	Send(payload []byte) error

	// Receive the next available payload from the channel.
	Recv() ([]byte, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A Conn proxies one client connection to one upstream connection, running
// every frame through the connection's filter chains.
//
// Call Start with the two channels to start the pump routines. Once started,
// a connection runs until Stop is called, either channel closes, or a
// protocol fatal error occurs. Use Wait to wait for the connection to exit
// and report its status.
//
// Frames are processed strictly in arrival order per direction: a request
// suspended by a filter blocks later requests on the same connection until
// its future resolves.
type Conn struct {
	reqChain *Chain
	rspChain *Chain

	in struct {
		client, upstream Channel // read without locking; owned by the pumps
	}
	out struct {
		// Must hold the lock to send to either channel.
		sync.Mutex
		client, upstream Channel
	}
	tasks  *taskgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	μ sync.Mutex

	err     error         // protocol fatal error
	corr    *correlations // outstanding requests
	log     zerolog.Logger
	metrics *Metrics
	onExit  func(error)
}

// NewConn constructs a new unstarted connection with the given request and
// response filter chains. A nil chain is treated as empty. The chains belong
// to this connection and must not be shared with another.
func NewConn(reqChain, rspChain *Chain) *Conn {
	if reqChain == nil {
		reqChain = &Chain{}
	}
	if rspChain == nil {
		rspChain = &Chain{}
	}
	return &Conn{
		reqChain: reqChain,
		rspChain: rspChain,
		log:      zerolog.Nop(),
		metrics:  DefaultMetrics(),
	}
}

// SetLogger sets the logger used for connection events. It must be called
// before Start. SetLogger returns c to permit chaining.
func (c *Conn) SetLogger(log zerolog.Logger) *Conn { c.log = log; return c }

// SetMetrics directs the connection's counters to m instead of the shared
// default collection. It must be called before Start. SetMetrics returns c to
// permit chaining.
func (c *Conn) SetMetrics(m *Metrics) *Conn { c.metrics = m; return c }

// OnExit registers a callback to be invoked when the connection terminates.
// The callback is executed synchronously during shutdown, with the same error
// value that would be reported by Wait. Only one exit callback can be
// registered at a time. OnExit returns c to permit chaining.
func (c *Conn) OnExit(f func(error)) *Conn {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.onExit = f
	return c
}

// Start starts the connection pumping frames between client and upstream.
// Start does not block; call Wait to wait for the connection to exit and
// report its status.
func (c *Conn) Start(client, upstream Channel) *Conn {
	if c.in.client != nil {
		panic("connection is already started")
	}

	c.in.client = client
	c.in.upstream = upstream
	c.out.client = client
	c.out.upstream = upstream
	c.err = nil
	c.corr = newCorrelations()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.tasks = taskgroup.New(nil)
	c.metrics.ConnectionsActive.Inc()

	c.tasks.Go(func() error { c.pump(DirRequest); return nil })
	c.tasks.Go(func() error { c.pump(DirResponse); return nil })

	return c
}

// Stop closes both channels and terminates the connection. It blocks until
// the pumps have exited and returns the connection status.
func (c *Conn) Stop() error { c.closeOut(); return c.Wait() }

// Wait blocks until c terminates and reports the error that caused it to
// stop. If c stopped because a channel closed normally, Wait returns nil.
func (c *Conn) Wait() error {
	c.μ.Lock()
	t := c.tasks
	c.μ.Unlock()
	if t == nil {
		return nil // the connection is not running
	}
	t.Wait()

	// Clean up connection state so it can be garbage collected.
	c.μ.Lock()
	defer c.μ.Unlock()
	c.in.client = nil
	c.in.upstream = nil
	c.tasks = nil
	c.metrics.ConnectionsActive.Dec()

	if treatErrorAsSuccess(c.err) {
		return nil
	}
	return c.err
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnClosed)
}

// pump moves frames in one direction until the channel closes or a protocol
// fatal error occurs. Frames are handled sequentially, preserving arrival
// order within the direction.
func (c *Conn) pump(dir Direction) {
	in := c.in.client
	process := c.processRequest
	if dir == DirResponse {
		in = c.in.upstream
		process = c.processResponse
	}
	for {
		payload, err := in.Recv()
		if err != nil {
			c.fail(err)
			return
		}
		c.metrics.FramesIn.WithLabelValues(dir.String()).Inc()
		if err := process(payload); err != nil {
			c.log.Error().Err(err).Stringer("direction", dir).Msg("frame processing failed")
			c.fail(err)
			return
		}
	}
}

// processRequest runs one raw request payload through the pipeline: parse the
// fixed header, decode the body if any filter in the chain asks for it, walk
// the chain, record the correlation entry, and forward the terminal frame
// upstream.
func (c *Conn) processRequest(payload []byte) error {
	hdr, err := ParseRequestHeader(payload)
	if err != nil {
		return err
	}
	decodeRsp := c.rspChain.NeedsDecodeResponse(hdr.Api, hdr.Version)

	var out Frame
	if c.reqChain.NeedsDecodeRequest(hdr.Api, hdr.Version) {
		dreq, err := DecodeRequest(payload, decodeRsp)
		if err != nil {
			if errors.Is(err, codec.ErrUnsupported) {
				return fmt.Errorf("dispatch %v v%d: %w", hdr.Api, hdr.Version, err)
			}
			return &DecodeError{Dir: DirRequest, Err: err}
		}
		c.metrics.RequestsDecoded.Inc()

		fctx := c.filterContext(hdr)
		res, err := waitChain(c, c.reqChain.RunRequest(fctx, dreq))
		if err != nil {
			return err
		}
		decodeRsp = res.WantDecodeResponse
		out = res
	} else {
		oreq, err := ParseOpaqueRequest(payload, decodeRsp)
		if err != nil {
			return err
		}
		out = oreq
	}

	c.μ.Lock()
	err = c.corr.register(out.CorrelationID(), correlationEntry{
		apiKey:         hdr.Api,
		apiVersion:     hdr.Version,
		decodeResponse: decodeRsp,
		chain:          c.rspChain,
	})
	c.μ.Unlock()
	if err != nil {
		return err
	}
	c.metrics.RequestsInFlight.Inc()

	return c.forward(DirRequest, out)
}

// processResponse runs one raw response payload through the pipeline:
// resolve the correlation entry recorded for its request, decode and filter
// if the entry asks for it, and forward the terminal frame to the client.
// A response with no entry is dropped and reported, never forwarded.
func (c *Conn) processResponse(payload []byte) error {
	corrID, err := ParseResponseCorrelation(payload)
	if err != nil {
		return err
	}
	c.μ.Lock()
	e, ok := c.corr.resolve(corrID)
	c.μ.Unlock()
	if !ok {
		c.metrics.UnmatchedResponses.Inc()
		c.metrics.FramesDropped.Inc()
		c.log.Warn().Int32("correlation_id", corrID).
			Err(ErrUnmatchedResponse).Msg("dropping response")
		return nil
	}
	c.metrics.RequestsInFlight.Dec()

	if !e.decodeResponse {
		orsp, err := ParseOpaqueResponse(payload)
		if err != nil {
			return err
		}
		return c.forward(DirResponse, orsp)
	}

	// The operation and version come from the correlation entry: responses
	// do not repeat them on the wire.
	hdr := RequestHeader{Api: e.apiKey, Version: e.apiVersion, CorrelationID: corrID}
	drsp, err := DecodeResponse(e.apiKey, e.apiVersion, payload)
	if err != nil {
		if errors.Is(err, codec.ErrUnsupported) {
			return fmt.Errorf("dispatch %v v%d: %w", e.apiKey, e.apiVersion, err)
		}
		return &DecodeError{Dir: DirResponse, Err: err}
	}
	c.metrics.ResponsesDecoded.Inc()

	res, err := waitChain(c, e.chain.RunResponse(c.filterContext(hdr), drsp))
	if err != nil {
		return err
	}
	return c.forward(DirResponse, res)
}

func (c *Conn) filterContext(hdr RequestHeader) *FilterContext {
	return &FilterContext{
		Log:           c.log,
		Api:           hdr.Api,
		Version:       hdr.Version,
		CorrelationID: hdr.CorrelationID,
	}
}

// waitChain waits for the terminal result of a filter chain walk. The wait
// parks the pump goroutine, so later frames in the same direction do not
// overtake a suspended one. Connection shutdown interrupts the wait.
func waitChain[T Frame](c *Conn, fut *future.Future[T]) (T, error) {
	if !fut.Done() {
		c.metrics.ChainSuspensions.Inc()
	}
	res, err := fut.WaitContext(c.ctx)
	if err != nil {
		var zero T
		if c.ctx.Err() != nil {
			return zero, ErrConnClosed
		}
		c.metrics.FilterFailures.Inc()
		return zero, err
	}
	return res, nil
}

// forward re-encodes a terminal frame and sends it on its way.
func (c *Conn) forward(dir Direction, f Frame) error {
	payload, err := f.Encode()
	if err != nil {
		return fmt.Errorf("encode %v frame: %w", dir, err)
	}

	c.out.Lock()
	defer c.out.Unlock()
	ch := c.out.upstream
	if dir == DirResponse {
		ch = c.out.client
	}
	if ch == nil {
		return ErrConnClosed
	}
	if err := ch.Send(payload); err != nil {
		return err
	}
	c.metrics.FramesOut.WithLabelValues(dir.String()).Inc()
	return nil
}

// fail terminates the connection: both channels are closed, outstanding
// correlation entries are discarded, and pending chain waits are released.
// Pending filter futures completing after this point are no-ops.
func (c *Conn) fail(err error) {
	c.closeOut()

	c.μ.Lock()
	if c.err != nil {
		c.μ.Unlock()
		return // already failed; keep the first cause
	}
	c.err = err
	c.cancel()
	c.metrics.RequestsInFlight.Sub(float64(c.corr.size()))
	c.corr.discard()
	exit := c.onExit
	c.μ.Unlock()

	// The callback runs unlocked so it may call back into the connection.
	if exit != nil {
		if treatErrorAsSuccess(err) {
			err = nil
		}
		exit(err)
	}
}

func (c *Conn) closeOut() {
	c.out.Lock()
	defer c.out.Unlock()
	if c.out.client != nil {
		c.out.client.Close()
	}
	if c.out.upstream != nil {
		c.out.upstream.Close()
	}
	c.out.client = nil
	c.out.upstream = nil
}
