// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package conns provides support code for serving and testing proxy
// connections.
package conns

import (
	"context"
	"errors"
	"net"

	"github.com/creachadair/taskgroup"

	"github.com/kproxy-io/kproxy"
	"github.com/kproxy-io/kproxy/channel"
)

// Local is a proxy connection wired to in-memory endpoints, suitable for
// testing. Frames sent on Client traverse the connection's request chain and
// arrive at Broker; frames sent on Broker traverse the response chain and
// arrive at Client.
type Local struct {
	Client kproxy.Channel // the client end of the proxied connection
	Broker kproxy.Channel // the upstream end of the proxied connection
	Conn   *kproxy.Conn
}

// Stop shuts down the connection and blocks until it has exited.
func (p *Local) Stop() error { return p.Conn.Stop() }

// NewLocal creates a proxy connection over direct channels with the given
// filter chains.
func NewLocal(reqChain, rspChain *kproxy.Chain) *Local {
	client, clientSide := channel.Direct()
	upstreamSide, broker := channel.Direct()
	return &Local{
		Client: client,
		Broker: broker,
		Conn:   kproxy.NewConn(reqChain, rspChain).Start(clientSide, upstreamSide),
	}
}

// An Accepter accepts inbound client channels.
type Accepter interface {
	Accept(context.Context) (kproxy.Channel, error)
}

// A Dialer opens a channel to the upstream for a new client connection.
type Dialer func(context.Context) (kproxy.Channel, error)

// Loop accepts client connections from acc, dials an upstream channel for
// each, and starts a proxy connection between them in a goroutine. Loop
// continues until acc closes or ctx ends.
//
// When ctx terminates, all running connections are stopped. When acc closes,
// the loop waits for running connections to exit before returning.
func Loop(ctx context.Context, acc Accepter, dial Dialer, newConn func() *kproxy.Conn) error {
	g := taskgroup.New(nil)
	for {
		client, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}

		g.Go(func() error {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()

			upstream, err := dial(sctx)
			if err != nil {
				client.Close()
				return err
			}
			conn := newConn().Start(client, upstream)

			go func() { <-sctx.Done(); conn.Stop() }()
			return conn.Wait()
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (kproxy.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}

// NetDialer returns a Dialer that connects to addr over TCP.
func NetDialer(addr string) Dialer {
	return func(ctx context.Context) (kproxy.Channel, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return channel.IO(conn, conn), nil
	}
}
