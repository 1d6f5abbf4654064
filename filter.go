// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package kproxy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kproxy-io/kproxy/codec"
	"github.com/kproxy-io/kproxy/future"
	"github.com/kproxy-io/kproxy/wire"
)

// A Filter inspects or mutates traffic passing through a connection. A filter
// value implements this interface plus any subset of the capability
// interfaces below: the generic RequestFilter/ResponseFilter capability, or
// one typed capability per operation it handles.
//
// Implementors may assume:
//
//  1. Each filter instance is bound to a single connection for its lifetime.
//  2. For a given instance, decode-policy queries and handler invocations
//     always occur on the same logical flow of execution for a direction.
//  3. Filters in a chain are applied in the order they were configured, for
//     every frame.
//
// Implementors must not assume that two filter instances in the same chain
// execute on the same goroutine as each other; state shared between filter
// instances needs its own synchronization.
type Filter interface {
	// Name identifies the filter in logs and configuration errors.
	Name() string
}

// A FilterContext carries per-frame information into filter handlers.
type FilterContext struct {
	Log           zerolog.Logger
	Api           wire.ApiKey
	Version       int16
	CorrelationID int32
}

// RequestFilter is the generic request capability: the filter sees every
// decoded request frame the chain decodes. Typed capabilities offer a safer
// alternative for filters interested in specific operations.
type RequestFilter interface {
	Filter
	OnRequest(fctx *FilterContext, req *DecodedRequest) (Verdict, error)
}

// ResponseFilter is the generic response capability.
type ResponseFilter interface {
	Filter
	OnResponse(fctx *FilterContext, rsp *DecodedResponse) (Verdict, error)
}

// RequestDecodePolicy lets a filter limit which requests are decoded on its
// behalf. The predicate must be a pure function of the API key, version, and
// the filter's static configuration: it may be queried any number of times
// and consecutive queries need not refer to the same frame.
//
// Filters without this capability are decoded for the operations they expose
// typed handlers for, or for every supported operation if they are generic.
type RequestDecodePolicy interface {
	ShouldDecodeRequest(key wire.ApiKey, version int16) bool
}

// ResponseDecodePolicy is the response-side analogue of RequestDecodePolicy.
type ResponseDecodePolicy interface {
	ShouldDecodeResponse(key wire.ApiKey, version int16) bool
}

// DeclaredOperations lets a filter state up front which operations it
// handles. Chain construction verifies every declared operation has a typed
// handler or a generic capability to land on, so a misconfigured filter is
// rejected before any traffic flows.
type DeclaredOperations interface {
	Handles() []wire.ApiKey
}

// ExclusiveOperations lets a filter claim sole handling of the named
// operations. Two filters in one chain claiming the same operation is a
// configuration error.
type ExclusiveOperations interface {
	Exclusive() []wire.ApiKey
}

// Typed request capabilities, one per supported operation.
type (
	MetadataRequestFilter interface {
		OnMetadataRequest(fctx *FilterContext, body *codec.MetadataRequest) (Verdict, error)
	}
	ApiVersionsRequestFilter interface {
		OnApiVersionsRequest(fctx *FilterContext, body *codec.ApiVersionsRequest) (Verdict, error)
	}
	SaslAuthenticateRequestFilter interface {
		OnSaslAuthenticateRequest(fctx *FilterContext, body *codec.SaslAuthenticateRequest) (Verdict, error)
	}
)

// Typed response capabilities, one per supported operation.
type (
	MetadataResponseFilter interface {
		OnMetadataResponse(fctx *FilterContext, body *codec.MetadataResponse) (Verdict, error)
	}
	ApiVersionsResponseFilter interface {
		OnApiVersionsResponse(fctx *FilterContext, body *codec.ApiVersionsResponse) (Verdict, error)
	}
	SaslAuthenticateResponseFilter interface {
		OnSaslAuthenticateResponse(fctx *FilterContext, body *codec.SaslAuthenticateResponse) (Verdict, error)
	}
)

// A Verdict is a filter's decision about a frame: forward it unchanged,
// forward a replacement, terminate the chain with a frame, or suspend until a
// future yields one of the other decisions.
type Verdict struct {
	kind  verdictKind
	frame Frame
	wait  *future.Future[Verdict]
}

type verdictKind int

const (
	verdictForward verdictKind = iota
	verdictReplace
	verdictTerminate
	verdictSuspend
)

// Forward passes the frame to the next filter unchanged.
func Forward() Verdict { return Verdict{kind: verdictForward} }

// Replace passes a replacement frame to the next filter. The replacement
// must have the same direction as the frame it replaces.
func Replace(f Frame) Verdict { return Verdict{kind: verdictReplace, frame: f} }

// Terminate short-circuits the chain: remaining filters are skipped and f is
// re-encoded and forwarded immediately.
func Terminate(f Frame) Verdict { return Verdict{kind: verdictTerminate, frame: f} }

// Suspend defers the decision until w completes with one of the other
// verdicts. The chain resumes from the next filter once w resolves; if w
// fails, the frame fails.
func Suspend(w *future.Future[Verdict]) Verdict { return Verdict{kind: verdictSuspend, wait: w} }

// Handler signatures used by the per-operation dispatch tables.
type (
	reqHandler func(fctx *FilterContext, req *DecodedRequest) (Verdict, error)
	rspHandler func(fctx *FilterContext, rsp *DecodedResponse) (Verdict, error)
)

// A boundFilter is a filter whose capabilities have been resolved into
// dispatch tables. All capability inspection happens once, at chain
// construction; per-frame dispatch is a map lookup.
type boundFilter struct {
	filter Filter

	onReq map[wire.ApiKey]reqHandler
	onRsp map[wire.ApiKey]rspHandler

	genericReq RequestFilter
	genericRsp ResponseFilter

	reqPolicy func(key wire.ApiKey, version int16) bool
	rspPolicy func(key wire.ApiKey, version int16) bool
}

// typedReq adapts a typed handler to the generic dispatch signature,
// asserting the decoded body's concrete type.
func typedReq[B codec.Message](name string, fn func(*FilterContext, B) (Verdict, error)) reqHandler {
	return func(fctx *FilterContext, req *DecodedRequest) (Verdict, error) {
		body, ok := req.Body.(B)
		if !ok {
			return Verdict{}, fmt.Errorf("filter %q: body has type %T for %v", name, req.Body, req.Api)
		}
		return fn(fctx, body)
	}
}

func typedRsp[B codec.Message](name string, fn func(*FilterContext, B) (Verdict, error)) rspHandler {
	return func(fctx *FilterContext, rsp *DecodedResponse) (Verdict, error) {
		body, ok := rsp.Body.(B)
		if !ok {
			return Verdict{}, fmt.Errorf("filter %q: body has type %T for %v", name, rsp.Body, rsp.Api)
		}
		return fn(fctx, body)
	}
}

// bindFilter resolves the capabilities of f into a boundFilter. This replaces
// per-frame type inspection with tables built once per connection.
func bindFilter(f Filter) (*boundFilter, error) {
	b := &boundFilter{
		filter: f,
		onReq:  make(map[wire.ApiKey]reqHandler),
		onRsp:  make(map[wire.ApiKey]rspHandler),
	}
	name := f.Name()

	if tf, ok := f.(MetadataRequestFilter); ok {
		b.onReq[wire.Metadata] = typedReq(name, tf.OnMetadataRequest)
	}
	if tf, ok := f.(ApiVersionsRequestFilter); ok {
		b.onReq[wire.ApiVersions] = typedReq(name, tf.OnApiVersionsRequest)
	}
	if tf, ok := f.(SaslAuthenticateRequestFilter); ok {
		b.onReq[wire.SaslAuthenticate] = typedReq(name, tf.OnSaslAuthenticateRequest)
	}
	if tf, ok := f.(MetadataResponseFilter); ok {
		b.onRsp[wire.Metadata] = typedRsp(name, tf.OnMetadataResponse)
	}
	if tf, ok := f.(ApiVersionsResponseFilter); ok {
		b.onRsp[wire.ApiVersions] = typedRsp(name, tf.OnApiVersionsResponse)
	}
	if tf, ok := f.(SaslAuthenticateResponseFilter); ok {
		b.onRsp[wire.SaslAuthenticate] = typedRsp(name, tf.OnSaslAuthenticateResponse)
	}

	b.genericReq, _ = f.(RequestFilter)
	b.genericRsp, _ = f.(ResponseFilter)

	if do, ok := f.(DeclaredOperations); ok {
		for _, key := range do.Handles() {
			_, hasReq := b.onReq[key]
			_, hasRsp := b.onRsp[key]
			if !hasReq && !hasRsp && b.genericReq == nil && b.genericRsp == nil {
				return nil, &ChainConfigError{Filter: name,
					Reason: fmt.Sprintf("declares %v but has no handler for it", key)}
			}
		}
	}

	if p, ok := f.(RequestDecodePolicy); ok {
		b.reqPolicy = p.ShouldDecodeRequest
	} else if b.genericReq != nil {
		b.reqPolicy = func(key wire.ApiKey, version int16) bool { return true }
	} else {
		b.reqPolicy = func(key wire.ApiKey, version int16) bool {
			_, ok := b.onReq[key]
			return ok
		}
	}
	if p, ok := f.(ResponseDecodePolicy); ok {
		b.rspPolicy = p.ShouldDecodeResponse
	} else if b.genericRsp != nil {
		b.rspPolicy = func(key wire.ApiKey, version int16) bool { return true }
	} else {
		b.rspPolicy = func(key wire.ApiKey, version int16) bool {
			_, ok := b.onRsp[key]
			return ok
		}
	}
	return b, nil
}

// applyRequest dispatches a decoded request to the filter. A filter with no
// handler for the operation forwards without being invoked: the decode may
// have been requested by another filter in the chain.
func (b *boundFilter) applyRequest(fctx *FilterContext, req *DecodedRequest) (Verdict, error) {
	if h, ok := b.onReq[req.Api]; ok {
		return h(fctx, req)
	}
	if b.genericReq != nil && b.reqPolicy(req.Api, req.Version) {
		return b.genericReq.OnRequest(fctx, req)
	}
	return Forward(), nil
}

func (b *boundFilter) applyResponse(fctx *FilterContext, rsp *DecodedResponse) (Verdict, error) {
	if h, ok := b.onRsp[rsp.Api]; ok {
		return h(fctx, rsp)
	}
	if b.genericRsp != nil && b.rspPolicy(rsp.Api, rsp.Version) {
		return b.genericRsp.OnResponse(fctx, rsp)
	}
	return Forward(), nil
}
