// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package kproxy

import (
	"fmt"

	"github.com/kproxy-io/kproxy/future"
	"github.com/kproxy-io/kproxy/wire"
)

// A Chain is an ordered sequence of filters applied to each frame of a
// connection. The order is fixed at construction and each chain belongs to
// exactly one connection; filter instances are never shared across
// connections.
type Chain struct {
	filters []*boundFilter
}

// NewChain binds the given filters into a chain, in order. Capability
// resolution and configuration checks happen here, before any traffic flows:
// a filter declaring an operation with no handler, or two filters claiming
// exclusive handling of the same operation, is rejected.
func NewChain(filters ...Filter) (*Chain, error) {
	c := &Chain{filters: make([]*boundFilter, 0, len(filters))}
	claimed := make(map[wire.ApiKey]string)
	for _, f := range filters {
		b, err := bindFilter(f)
		if err != nil {
			return nil, err
		}
		if ex, ok := f.(ExclusiveOperations); ok {
			for _, key := range ex.Exclusive() {
				if prev, ok := claimed[key]; ok {
					return nil, &ChainConfigError{Filter: f.Name(),
						Reason: fmt.Sprintf("claims exclusive handling of %v, already claimed by %q", key, prev)}
				}
				claimed[key] = f.Name()
			}
		}
		c.filters = append(c.filters, b)
	}
	return c, nil
}

// Len reports the number of filters in the chain.
func (c *Chain) Len() int { return len(c.filters) }

// NeedsDecodeRequest reports whether any filter in the chain needs the given
// request operation decoded. When false, the frame traverses the connection
// opaque.
func (c *Chain) NeedsDecodeRequest(key wire.ApiKey, version int16) bool {
	for _, b := range c.filters {
		if b.reqPolicy(key, version) {
			return true
		}
	}
	return false
}

// NeedsDecodeResponse reports whether any filter in the chain needs the given
// response operation decoded.
func (c *Chain) NeedsDecodeResponse(key wire.ApiKey, version int16) bool {
	for _, b := range c.filters {
		if b.rspPolicy(key, version) {
			return true
		}
	}
	return false
}

// RunRequest walks the chain over a decoded request. The frame is decoded
// once; every filter shares the same decoded body. The returned future
// completes with the terminal frame once every filter has either forwarded,
// replaced, terminated, or had its suspension resolved; it fails if a filter
// reports an error or a suspension fails.
func (c *Chain) RunRequest(fctx *FilterContext, req *DecodedRequest) *future.Future[*DecodedRequest] {
	return runChain(fctx, c.filters, req, (*boundFilter).applyRequest)
}

// RunResponse walks the chain over a decoded response.
func (c *Chain) RunResponse(fctx *FilterContext, rsp *DecodedResponse) *future.Future[*DecodedResponse] {
	return runChain(fctx, c.filters, rsp, (*boundFilter).applyResponse)
}

// runChain is the traversal state machine shared by both directions. It is
// iterative while filters answer synchronously and re-enters itself from a
// future listener when one suspends, so a pending filter never blocks the
// goroutine that started the walk.
func runChain[T Frame](fctx *FilterContext, filters []*boundFilter, frame T,
	apply func(*boundFilter, *FilterContext, T) (Verdict, error)) *future.Future[T] {

	p, out := future.New[T]()

	fail := func(b *boundFilter, err error) {
		p.Fail(&FilterError{Filter: b.filter.Name(), Api: fctx.Api, Err: err})
	}

	// step applies a verdict at position i and continues the walk. Filters
	// after a termination are never entered.
	var walk func(i int, cur T)
	var step func(i int, cur T, v Verdict, err error)

	step = func(i int, cur T, v Verdict, err error) {
		b := filters[i]
		if err != nil {
			fail(b, err)
			return
		}
		switch v.kind {
		case verdictForward:
			walk(i+1, cur)
		case verdictReplace:
			next, ok := v.frame.(T)
			if !ok {
				fail(b, fmt.Errorf("replacement frame has type %T", v.frame))
				return
			}
			walk(i+1, next)
		case verdictTerminate:
			next, ok := v.frame.(T)
			if !ok {
				fail(b, fmt.Errorf("terminal frame has type %T", v.frame))
				return
			}
			p.Succeed(next)
		case verdictSuspend:
			if v.wait == nil {
				fail(b, fmt.Errorf("suspend verdict with no future"))
				return
			}
			v.wait.Listen(func(resolved Verdict, err error) {
				step(i, cur, resolved, err)
			})
		default:
			fail(b, fmt.Errorf("invalid verdict %d", v.kind))
		}
	}

	walk = func(i int, cur T) {
		for ; i < len(filters); i++ {
			v, err := apply(filters[i], fctx, cur)
			if err != nil || v.kind != verdictForward {
				step(i, cur, v, err)
				return
			}
		}
		p.Succeed(cur)
	}

	walk(0, frame)
	return out
}
