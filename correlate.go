// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package kproxy

import (
	"fmt"

	"github.com/kproxy-io/kproxy/wire"
)

// A correlationEntry records the context needed to route the response to an
// outstanding request: which operation and version to decode it as, whether
// to decode it at all, and the chain that will process it.
type correlationEntry struct {
	apiKey         wire.ApiKey
	apiVersion     int16
	decodeResponse bool
	chain          *Chain
}

// correlations tracks the requests in flight on one connection, keyed by
// correlation id. Responses may arrive in any order relative to their
// requests, so this is a map, not a queue. The table is owned by its
// connection and guarded by the connection's lock.
type correlations struct {
	m map[int32]correlationEntry
}

func newCorrelations() *correlations {
	return &correlations{m: make(map[int32]correlationEntry)}
}

// register records an outstanding request. The upstream protocol guarantees
// correlation ids are unique among in-flight requests on one connection, so
// registering an id already present indicates a protocol or proxy bug and is
// reported as a fatal error.
func (c *correlations) register(id int32, e correlationEntry) error {
	if _, ok := c.m[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateCorrelation, id)
	}
	c.m[id] = e
	return nil
}

// resolve removes and returns the entry for id. A missing entry means the
// response is unattributable and must not be forwarded.
func (c *correlations) resolve(id int32) (correlationEntry, bool) {
	e, ok := c.m[id]
	if ok {
		delete(c.m, id)
	}
	return e, ok
}

// size reports the number of requests currently in flight.
func (c *correlations) size() int { return len(c.m) }

// discard drops all outstanding entries. Used at connection teardown, after
// which no resolution is expected.
func (c *correlations) discard() { clear(c.m) }
