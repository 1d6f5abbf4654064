// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package kproxy_test

import (
	"bytes"
	"errors"
	"testing"
	"testing/synctest"

	"github.com/fortytw2/leaktest"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kproxy-io/kproxy"
	"github.com/kproxy-io/kproxy/channel"
	"github.com/kproxy-io/kproxy/codec"
	"github.com/kproxy-io/kproxy/future"
	"github.com/kproxy-io/kproxy/wire"
)

// startConn wires a connection between two direct channel pairs and returns
// the test-facing ends.
func startConn(t *testing.T, reqChain, rspChain *kproxy.Chain, opts ...func(*kproxy.Conn)) (client, broker kproxy.Channel, conn *kproxy.Conn) {
	t.Helper()
	client, clientSide := channel.Direct()
	upstreamSide, broker := channel.Direct()
	conn = kproxy.NewConn(reqChain, rspChain)
	for _, opt := range opts {
		opt(conn)
	}
	conn.Start(clientSide, upstreamSide)
	return client, broker, conn
}

func TestConnOpaquePassthrough(t *testing.T) {
	defer leaktest.Check(t)()

	client, broker, conn := startConn(t, nil, nil)

	req := []byte{0, 1, 0, 12, 0, 0, 0, 5, 'f', 'e', 't', 'c', 'h'}
	if err := client.Send(req); err != nil {
		t.Fatalf("Client send: %v", err)
	}
	got, err := broker.Recv()
	if err != nil {
		t.Fatalf("Broker recv: %v", err)
	}
	if !bytes.Equal(got, req) {
		t.Errorf("Broker recv: got %v, want %v", got, req)
	}

	rsp := []byte{0, 0, 0, 5, 'd', 'a', 't', 'a'}
	if err := broker.Send(rsp); err != nil {
		t.Fatalf("Broker send: %v", err)
	}
	if got, err := client.Recv(); err != nil {
		t.Fatalf("Client recv: %v", err)
	} else if !bytes.Equal(got, rsp) {
		t.Errorf("Client recv: got %v, want %v", got, rsp)
	}

	if err := conn.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

// rewriteFilter is a typed response filter that rewrites advertised broker
// hosts, driving the decode-on-demand response path.
type rewriteFilter struct{ host string }

func (rewriteFilter) Name() string { return "rewriter" }

func (f rewriteFilter) OnMetadataResponse(fctx *kproxy.FilterContext, body *codec.MetadataResponse) (kproxy.Verdict, error) {
	for i := range body.Brokers {
		body.Brokers[i].Host = f.host
	}
	return kproxy.Forward(), nil
}

// renameFilter is a typed request filter that renames the requested topics.
type renameFilter struct{ prefix string }

func (renameFilter) Name() string { return "renamer" }

func (f renameFilter) OnMetadataRequest(fctx *kproxy.FilterContext, body *codec.MetadataRequest) (kproxy.Verdict, error) {
	for i := range body.Topics {
		body.Topics[i].Name = f.prefix + body.Topics[i].Name
	}
	return kproxy.Forward(), nil
}

func TestConnFilteredMetadata(t *testing.T) {
	defer leaktest.Check(t)()

	reqChain, err := kproxy.NewChain(renameFilter{prefix: "tenant-a."})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	rspChain, err := kproxy.NewChain(rewriteFilter{host: "proxy.example.com"})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	client, broker, conn := startConn(t, reqChain, rspChain)
	defer conn.Stop()

	clientID := "console"
	reqPayload := mustEncodeRequest(t, wire.Metadata, 4,
		codec.RequestHeader{CorrelationID: 11, ClientID: &clientID},
		&codec.MetadataRequest{Topics: []codec.MetadataRequestTopic{{Name: "events"}}})
	if err := client.Send(reqPayload); err != nil {
		t.Fatalf("Client send: %v", err)
	}

	// The broker must see the request with the topic renamed.
	upstream, err := broker.Recv()
	if err != nil {
		t.Fatalf("Broker recv: %v", err)
	}
	_, _, _, reqBody, err := codec.DecodeRequest(upstream)
	if err != nil {
		t.Fatalf("Decode upstream request: %v", err)
	}
	mr, ok := reqBody.(*codec.MetadataRequest)
	if !ok {
		t.Fatalf("Upstream body: got %T, want *codec.MetadataRequest", reqBody)
	}
	if got := mr.Topics[0].Name; got != "tenant-a.events" {
		t.Errorf("Upstream topic: got %q, want %q", got, "tenant-a.events")
	}

	rspPayload, err := codec.EncodeResponse(wire.Metadata, 4, 11, &codec.MetadataResponse{
		Brokers: []codec.MetadataBroker{{NodeID: 1, Host: "broker-1.internal", Port: 9092}},
	})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if err := broker.Send(rspPayload); err != nil {
		t.Fatalf("Broker send: %v", err)
	}

	// The client must see the response with the broker host rewritten.
	downstream, err := client.Recv()
	if err != nil {
		t.Fatalf("Client recv: %v", err)
	}
	corr, rspBody, err := codec.DecodeResponse(wire.Metadata, 4, downstream)
	if err != nil {
		t.Fatalf("Decode downstream response: %v", err)
	}
	if corr != 11 {
		t.Errorf("Downstream correlation id: got %d, want 11", corr)
	}
	rm, ok := rspBody.(*codec.MetadataResponse)
	if !ok {
		t.Fatalf("Downstream body: got %T, want *codec.MetadataResponse", rspBody)
	}
	if got := rm.Brokers[0].Host; got != "proxy.example.com" {
		t.Errorf("Advertised host: got %q, want %q", got, "proxy.example.com")
	}
}

// gateFilter suspends every metadata request on a shared future.
type gateFilter struct {
	release *future.Future[kproxy.Verdict]
}

func (gateFilter) Name() string { return "gate" }

func (g gateFilter) OnMetadataRequest(fctx *kproxy.FilterContext, body *codec.MetadataRequest) (kproxy.Verdict, error) {
	return kproxy.Suspend(g.release), nil
}

func TestConnSuspendOrdering(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, release := future.New[kproxy.Verdict]()
		reqChain, err := kproxy.NewChain(gateFilter{release: release})
		if err != nil {
			t.Fatalf("NewChain: %v", err)
		}
		client, broker, conn := startConn(t, reqChain, nil)

		arrived := make(chan []byte, 2)
		go func() {
			for {
				payload, err := broker.Recv()
				if err != nil {
					return
				}
				arrived <- payload
			}
		}()

		first := mustEncodeRequest(t, wire.Metadata, 4,
			codec.RequestHeader{CorrelationID: 1}, &codec.MetadataRequest{AllTopics: true})
		second := []byte{0, 1, 0, 12, 0, 0, 0, 2, 'x'} // opaque, but must wait its turn

		go func() {
			client.Send(first)
			client.Send(second)
		}()
		synctest.Wait()

		select {
		case payload := <-arrived:
			t.Fatalf("A frame overtook the suspended one: %v", payload)
		default:
			// ok, nothing forwarded yet
		}

		p.Succeed(kproxy.Forward())
		synctest.Wait()

		got1 := <-arrived
		got2 := <-arrived
		if _, _, _, _, err := codec.DecodeRequest(got1); err != nil {
			t.Errorf("First forwarded frame does not decode: %v", err)
		}
		if !bytes.Equal(got2, second) {
			t.Errorf("Second forwarded frame: got %v, want %v", got2, second)
		}

		if err := conn.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
		client.Close()
	})
}

func TestConnUnmatchedResponse(t *testing.T) {
	defer leaktest.Check(t)()

	m := kproxy.NewMetrics()
	client, broker, conn := startConn(t, nil, nil, func(c *kproxy.Conn) { c.SetMetrics(m) })

	// An unsolicited response must be dropped, not forwarded, and must not
	// take the connection down.
	if err := broker.Send([]byte{0, 0, 0, 42, 'j', 'u', 'n', 'k'}); err != nil {
		t.Fatalf("Broker send: %v", err)
	}

	req := []byte{0, 1, 0, 12, 0, 0, 0, 7, 'o', 'k'}
	if err := client.Send(req); err != nil {
		t.Fatalf("Client send: %v", err)
	}
	if _, err := broker.Recv(); err != nil {
		t.Fatalf("Broker recv: %v", err)
	}
	rsp := []byte{0, 0, 0, 7, 'f', 'i', 'n', 'e'}
	if err := broker.Send(rsp); err != nil {
		t.Fatalf("Broker send: %v", err)
	}
	if got, err := client.Recv(); err != nil {
		t.Fatalf("Client recv: %v", err)
	} else if !bytes.Equal(got, rsp) {
		t.Errorf("Client recv: got %v, want %v", got, rsp)
	}

	if got := testutil.ToFloat64(m.UnmatchedResponses); got != 1 {
		t.Errorf("Unmatched responses: got %v, want 1", got)
	}
	if err := conn.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

// decodeAll asks for every request to be decoded, so an operation the codec
// does not support becomes a dispatch failure.
type decodeAll struct{}

func (decodeAll) Name() string { return "decode-all" }

func (decodeAll) ShouldDecodeRequest(key wire.ApiKey, version int16) bool { return true }

func (decodeAll) OnRequest(fctx *kproxy.FilterContext, req *kproxy.DecodedRequest) (kproxy.Verdict, error) {
	return kproxy.Forward(), nil
}

func TestConnUnsupportedOperation(t *testing.T) {
	defer leaktest.Check(t)()

	reqChain, err := kproxy.NewChain(decodeAll{})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	client, _, conn := startConn(t, reqChain, nil)

	if err := client.Send([]byte{0x27, 0x0f, 0, 1, 0, 0, 0, 9}); err != nil { // api key 9999
		t.Fatalf("Client send: %v", err)
	}
	if err := conn.Wait(); !errors.Is(err, codec.ErrUnsupported) {
		t.Errorf("Wait: got %v, want %v", err, codec.ErrUnsupported)
	}
	if _, err := client.Recv(); err == nil {
		t.Error("Client channel still open after a protocol fatal error")
	}
}

func TestConnDuplicateCorrelation(t *testing.T) {
	defer leaktest.Check(t)()

	client, broker, conn := startConn(t, nil, nil)

	req := []byte{0, 1, 0, 12, 0, 0, 0, 8, 'a'}
	if err := client.Send(req); err != nil {
		t.Fatalf("Client send: %v", err)
	}
	if _, err := broker.Recv(); err != nil {
		t.Fatalf("Broker recv: %v", err)
	}
	if err := client.Send(req); err != nil {
		t.Fatalf("Client send duplicate: %v", err)
	}
	if err := conn.Wait(); !errors.Is(err, kproxy.ErrDuplicateCorrelation) {
		t.Errorf("Wait: got %v, want %v", err, kproxy.ErrDuplicateCorrelation)
	}
}

func TestConnExitCallback(t *testing.T) {
	defer leaktest.Check(t)()

	exited := make(chan error, 1)
	client, _, conn := startConn(t, nil, nil, func(c *kproxy.Conn) {
		c.OnExit(func(err error) { exited <- err })
	})

	client.Close()
	if err := conn.Wait(); err != nil {
		t.Errorf("Wait: unexpected error: %v", err)
	}
	if err := <-exited; err != nil {
		t.Errorf("Exit callback: unexpected error: %v", err)
	}
}

// The exit callback must be able to call back into the connection. A callback
// invoked under the connection lock would deadlock here.
func TestConnExitReentrant(t *testing.T) {
	defer leaktest.Check(t)()

	exited := make(chan error, 1)
	client, _, conn := startConn(t, nil, nil, func(c *kproxy.Conn) {
		c.OnExit(func(err error) {
			c.OnExit(nil) // deregister; requires the connection lock
			exited <- err
		})
	})

	client.Close()
	if err := conn.Wait(); err != nil {
		t.Errorf("Wait: unexpected error: %v", err)
	}
	if err := <-exited; err != nil {
		t.Errorf("Exit callback: unexpected error: %v", err)
	}
}
