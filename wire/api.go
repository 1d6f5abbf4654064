// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package wire

import "fmt"

// An ApiKey identifies a protocol operation. The values are assigned by the
// upstream protocol and are stable across versions.
type ApiKey int16

const (
	Produce          ApiKey = 0
	Fetch            ApiKey = 1
	Metadata         ApiKey = 3
	SaslHandshake    ApiKey = 17
	ApiVersions      ApiKey = 18
	SaslAuthenticate ApiKey = 36
)

// Known reports whether k is an operation known to this build.
func (k ApiKey) Known() bool {
	switch k {
	case Produce, Fetch, Metadata, SaslHandshake, ApiVersions, SaslAuthenticate:
		return true
	}
	return false
}

func (k ApiKey) String() string {
	switch k {
	case Produce:
		return "PRODUCE"
	case Fetch:
		return "FETCH"
	case Metadata:
		return "METADATA"
	case SaslHandshake:
		return "SASL_HANDSHAKE"
	case ApiVersions:
		return "API_VERSIONS"
	case SaslAuthenticate:
		return "SASL_AUTHENTICATE"
	default:
		return fmt.Sprintf("API:%d", int16(k))
	}
}
