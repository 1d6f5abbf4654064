// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package filters

import (
	"github.com/kproxy-io/kproxy"
	"github.com/kproxy-io/kproxy/codec"
	"github.com/kproxy-io/kproxy/wire"
)

// A BrokerAddressRewrite rewrites the broker endpoints advertised in metadata
// responses so that clients reconnect through the proxy instead of directly
// to the cluster. It claims the metadata operation exclusively: two rewriters
// in one chain would fight over the advertised address.
type BrokerAddressRewrite struct {
	// Advertise maps a broker node id to the address the client should see.
	// A nil Advertise, or a false second result, leaves that broker alone.
	Advertise func(nodeID int32) (host string, port int32, ok bool)
}

// Name implements a method of the [kproxy.Filter] interface.
func (*BrokerAddressRewrite) Name() string { return "broker-address-rewrite" }

// Handles declares the operations this filter handles.
func (*BrokerAddressRewrite) Handles() []wire.ApiKey { return []wire.ApiKey{wire.Metadata} }

// Exclusive claims sole handling of the metadata operation.
func (*BrokerAddressRewrite) Exclusive() []wire.ApiKey { return []wire.ApiKey{wire.Metadata} }

// OnMetadataResponse implements a method of the
// [kproxy.MetadataResponseFilter] interface.
func (b *BrokerAddressRewrite) OnMetadataResponse(fctx *kproxy.FilterContext, body *codec.MetadataResponse) (kproxy.Verdict, error) {
	if b.Advertise == nil {
		return kproxy.Forward(), nil
	}
	for i, broker := range body.Brokers {
		host, port, ok := b.Advertise(broker.NodeID)
		if !ok {
			continue
		}
		fctx.Log.Debug().
			Int32("node_id", broker.NodeID).
			Str("host", host).Int32("port", port).
			Msg("rewriting broker address")
		body.Brokers[i].Host = host
		body.Brokers[i].Port = port
	}
	return kproxy.Forward(), nil
}

// FixedAdvertise returns an Advertise function that reports the same address
// for every broker, the usual single-endpoint proxy deployment.
func FixedAdvertise(host string, port int32) func(int32) (string, int32, bool) {
	return func(int32) (string, int32, bool) { return host, port, true }
}
