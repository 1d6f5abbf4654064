// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package filters

import (
	"github.com/kproxy-io/kproxy"
	"github.com/kproxy-io/kproxy/codec"
	"github.com/kproxy-io/kproxy/future"
	"github.com/kproxy-io/kproxy/wire"
)

// An Authenticator validates one round of SASL authentication data. The
// result future may be completed from any goroutine, typically after a
// lookup against an external identity store.
type Authenticator interface {
	Authenticate(authBytes []byte) *future.Future[[]byte]
}

// A SaslGate validates SASL authentication rounds against an external
// Authenticator before letting them reach the upstream. While a round is
// being validated the frame is suspended, which holds back all later
// requests on the connection. A failed validation fails the frame and tears
// the connection down.
type SaslGate struct {
	Auth Authenticator
}

// Name implements a method of the [kproxy.Filter] interface.
func (*SaslGate) Name() string { return "sasl-gate" }

// Handles declares the operations this filter handles.
func (*SaslGate) Handles() []wire.ApiKey { return []wire.ApiKey{wire.SaslAuthenticate} }

// OnSaslAuthenticateRequest implements a method of the
// [kproxy.SaslAuthenticateRequestFilter] interface.
func (s *SaslGate) OnSaslAuthenticateRequest(fctx *kproxy.FilterContext, body *codec.SaslAuthenticateRequest) (kproxy.Verdict, error) {
	check := s.Auth.Authenticate(body.AuthBytes)
	return kproxy.Suspend(future.Map(check, func([]byte) (kproxy.Verdict, error) {
		fctx.Log.Debug().Int32("correlation_id", fctx.CorrelationID).Msg("authentication accepted")
		return kproxy.Forward(), nil
	})), nil
}
