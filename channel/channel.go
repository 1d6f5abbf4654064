// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package channel provides implementations of the kproxy.Channel interface.
package channel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/kproxy-io/kproxy"
)

// MaxFrameLen is the maximum frame payload size an IOChannel will accept,
// inbound or outbound. A declared length beyond this bound is treated as a
// corrupt stream rather than an allocation request.
const MaxFrameLen = 1 << 26 // 64 MiB

// Direct constructs a connected pair of in-memory channels that pass frame
// payloads directly without writing them to a stream. Payloads sent to A are
// received by B and vice versa.
func Direct() (A, B kproxy.Channel) {
	a2b := make(chan []byte)
	b2a := make(chan []byte)
	A = direct{a2b: a2b, b2a: b2a, done: make(chan struct{})}
	B = direct{a2b: b2a, b2a: a2b, done: make(chan struct{})}
	return
}

type direct struct {
	a2b  chan<- []byte
	b2a  <-chan []byte
	done chan struct{} // closed by Close; releases this end's blocked calls
}

// Send implements a method of the [kproxy.Channel] interface.
func (d direct) Send(payload []byte) (err error) {
	defer safeClose(&err)
	select {
	case d.a2b <- payload:
		return nil
	case <-d.done:
		return net.ErrClosed
	}
}

// Recv implements a method of the [kproxy.Channel] interface.
func (d direct) Recv() ([]byte, error) {
	select {
	case payload, ok := <-d.b2a:
		if !ok {
			return nil, net.ErrClosed
		}
		return payload, nil
	case <-d.done:
		return nil, net.ErrClosed
	}
}

// Close implements a method of the [kproxy.Channel] interface. Closing an end
// wakes that end's pending Send and Recv calls as well as the peer's Recv.
func (d direct) Close() (err error) {
	defer safeClose(&err)
	close(d.a2b)
	close(d.done)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that receives from r and sends to wc, framing each
// payload with a 4-byte big-endian length prefix.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives length-prefixed frame payloads on a reader
// and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [kproxy.Channel] interface.
func (c IOChannel) Send(payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("frame too long (%d > %d bytes)", len(payload), MaxFrameLen)
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))
	if _, err := c.w.Write(size[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [kproxy.Channel] interface.
func (c IOChannel) Recv() ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(c.r, size[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > MaxFrameLen {
		return nil, fmt.Errorf("frame too long (%d > %d bytes)", n, MaxFrameLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Close implements a method of the [kproxy.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }
