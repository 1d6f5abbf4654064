// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package filters provides ready-made filters for common proxy tasks.
package filters

import (
	"github.com/kproxy-io/kproxy"
	"github.com/kproxy-io/kproxy/codec"
	"github.com/kproxy-io/kproxy/wire"
)

// A TrafficLogger logs every frame the connection can decode and forwards it
// unchanged. It is a generic filter: placing it in a chain causes every
// supported operation to be decoded, so it is meant for debugging rather
// than production paths.
type TrafficLogger struct{}

// Name implements a method of the [kproxy.Filter] interface.
func (TrafficLogger) Name() string { return "traffic-logger" }

// ShouldDecodeRequest reports interest in every operation the codec supports.
func (TrafficLogger) ShouldDecodeRequest(key wire.ApiKey, version int16) bool {
	return codec.Supports(key, version)
}

// ShouldDecodeResponse reports interest in every operation the codec supports.
func (TrafficLogger) ShouldDecodeResponse(key wire.ApiKey, version int16) bool {
	return codec.Supports(key, version)
}

// OnRequest implements a method of the [kproxy.RequestFilter] interface.
func (TrafficLogger) OnRequest(fctx *kproxy.FilterContext, req *kproxy.DecodedRequest) (kproxy.Verdict, error) {
	fctx.Log.Info().
		Stringer("api", fctx.Api).
		Int16("version", fctx.Version).
		Int32("correlation_id", fctx.CorrelationID).
		Str("client_id", orEmpty(req.Header.ClientID)).
		Msg("request")
	return kproxy.Forward(), nil
}

// OnResponse implements a method of the [kproxy.ResponseFilter] interface.
func (TrafficLogger) OnResponse(fctx *kproxy.FilterContext, rsp *kproxy.DecodedResponse) (kproxy.Verdict, error) {
	fctx.Log.Info().
		Stringer("api", fctx.Api).
		Int16("version", fctx.Version).
		Int32("correlation_id", fctx.CorrelationID).
		Msg("response")
	return kproxy.Forward(), nil
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
