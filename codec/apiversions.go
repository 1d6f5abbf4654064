// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package codec

import "github.com/kproxy-io/kproxy/wire"

// ApiVersionsRequest asks a broker which operations and versions it supports.
// The client software fields are only present from v3.
type ApiVersionsRequest struct {
	ClientSoftwareName    string
	ClientSoftwareVersion string
}

func (*ApiVersionsRequest) Api() wire.ApiKey { return wire.ApiVersions }

// ApiVersionsResponse reports the broker's supported version ranges.
type ApiVersionsResponse struct {
	ErrorCode  int16
	Keys       []ApiVersionsKey
	ThrottleMs int32 // v1+
}

func (*ApiVersionsResponse) Api() wire.ApiKey { return wire.ApiVersions }

// ApiVersionsKey is the supported version range for one operation.
type ApiVersionsKey struct {
	Api        wire.ApiKey
	MinVersion int16
	MaxVersion int16
}

var apiVersionsCodec = bodyCodec{
	minVersion:  0,
	maxVersion:  3,
	flexVersion: 3,

	decodeRequest: func(s *wire.Scanner, ver int16) (Message, error) {
		var m ApiVersionsRequest
		if ver < 3 {
			return &m, nil
		}
		var err error
		if m.ClientSoftwareName, err = s.CompactString(); err != nil {
			return nil, err
		}
		if m.ClientSoftwareVersion, err = s.CompactString(); err != nil {
			return nil, err
		}
		return &m, s.SkipTaggedFields()
	},

	encodeRequest: func(b *wire.Builder, m Message, ver int16) error {
		req, ok := m.(*ApiVersionsRequest)
		if !ok {
			return wrongBody("*ApiVersionsRequest", m)
		}
		if ver < 3 {
			return nil
		}
		b.CompactString(req.ClientSoftwareName)
		b.CompactString(req.ClientSoftwareVersion)
		b.EmptyTaggedFields()
		return nil
	},

	decodeResponse: func(s *wire.Scanner, ver int16) (Message, error) {
		flex := ver >= 3
		var m ApiVersionsResponse
		var err error
		if m.ErrorCode, err = s.Int16(); err != nil {
			return nil, err
		}
		n, err := getArrayLen(s, flex)
		if err != nil {
			return nil, err
		}
		for range max(n, 0) {
			var k ApiVersionsKey
			raw, err := s.Int16()
			if err != nil {
				return nil, err
			}
			k.Api = wire.ApiKey(raw)
			if k.MinVersion, err = s.Int16(); err != nil {
				return nil, err
			}
			if k.MaxVersion, err = s.Int16(); err != nil {
				return nil, err
			}
			if err := skipTags(s, flex); err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, k)
		}
		if ver >= 1 {
			if m.ThrottleMs, err = s.Int32(); err != nil {
				return nil, err
			}
		}
		return &m, skipTags(s, flex)
	},

	encodeResponse: func(b *wire.Builder, m Message, ver int16) error {
		rsp, ok := m.(*ApiVersionsResponse)
		if !ok {
			return wrongBody("*ApiVersionsResponse", m)
		}
		flex := ver >= 3
		b.Int16(rsp.ErrorCode)
		putArrayLen(b, len(rsp.Keys), flex)
		for _, k := range rsp.Keys {
			b.Int16(int16(k.Api))
			b.Int16(k.MinVersion)
			b.Int16(k.MaxVersion)
			putTags(b, flex)
		}
		if ver >= 1 {
			b.Int32(rsp.ThrottleMs)
		}
		putTags(b, flex)
		return nil
	},
}
