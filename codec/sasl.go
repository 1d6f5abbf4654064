// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package codec

import "github.com/kproxy-io/kproxy/wire"

// SaslAuthenticateRequest carries one round of SASL authentication data.
type SaslAuthenticateRequest struct {
	AuthBytes []byte
}

func (*SaslAuthenticateRequest) Api() wire.ApiKey { return wire.SaslAuthenticate }

// SaslAuthenticateResponse carries the broker's verdict on one SASL round.
type SaslAuthenticateResponse struct {
	ErrorCode         int16
	ErrorMessage      *string
	AuthBytes         []byte
	SessionLifetimeMs int64 // v1+
}

func (*SaslAuthenticateResponse) Api() wire.ApiKey { return wire.SaslAuthenticate }

var saslAuthenticateCodec = bodyCodec{
	minVersion:  0,
	maxVersion:  2,
	flexVersion: 2,

	decodeRequest: func(s *wire.Scanner, ver int16) (Message, error) {
		flex := ver >= 2
		var m SaslAuthenticateRequest
		var err error
		if m.AuthBytes, err = getBytes(s, flex); err != nil {
			return nil, err
		}
		return &m, skipTags(s, flex)
	},

	encodeRequest: func(b *wire.Builder, m Message, ver int16) error {
		req, ok := m.(*SaslAuthenticateRequest)
		if !ok {
			return wrongBody("*SaslAuthenticateRequest", m)
		}
		flex := ver >= 2
		putBytes(b, req.AuthBytes, flex)
		putTags(b, flex)
		return nil
	},

	decodeResponse: func(s *wire.Scanner, ver int16) (Message, error) {
		flex := ver >= 2
		var m SaslAuthenticateResponse
		var err error
		if m.ErrorCode, err = s.Int16(); err != nil {
			return nil, err
		}
		if m.ErrorMessage, err = getNullableString(s, flex); err != nil {
			return nil, err
		}
		if m.AuthBytes, err = getBytes(s, flex); err != nil {
			return nil, err
		}
		if ver >= 1 {
			if m.SessionLifetimeMs, err = s.Int64(); err != nil {
				return nil, err
			}
		}
		return &m, skipTags(s, flex)
	},

	encodeResponse: func(b *wire.Builder, m Message, ver int16) error {
		rsp, ok := m.(*SaslAuthenticateResponse)
		if !ok {
			return wrongBody("*SaslAuthenticateResponse", m)
		}
		flex := ver >= 2
		b.Int16(rsp.ErrorCode)
		putNullableString(b, rsp.ErrorMessage, flex)
		putBytes(b, rsp.AuthBytes, flex)
		if ver >= 1 {
			b.Int64(rsp.SessionLifetimeMs)
		}
		putTags(b, flex)
		return nil
	},
}
