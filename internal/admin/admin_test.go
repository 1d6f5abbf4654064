// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package admin_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kproxy-io/kproxy"
	"github.com/kproxy-io/kproxy/internal/admin"
)

func TestEndpoints(t *testing.T) {
	m := kproxy.NewMetrics()
	m.FramesIn.WithLabelValues("request").Add(3)

	ready := true
	srv := &admin.Server{
		Registry: m.Registry(),
		Ready:    func() bool { return ready },
		Log:      zerolog.Nop(),
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		t.Helper()
		rsp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer rsp.Body.Close()
		body, err := io.ReadAll(rsp.Body)
		if err != nil {
			t.Fatalf("GET %s: read body: %v", path, err)
		}
		return rsp.StatusCode, string(body)
	}

	t.Run("Metrics", func(t *testing.T) {
		code, body := get("/metrics")
		if code != http.StatusOK {
			t.Fatalf("GET /metrics: status %d", code)
		}
		if !strings.Contains(body, `kproxy_frames_in_total{direction="request"} 3`) {
			t.Errorf("Metrics output missing frame counter:\n%s", body)
		}
	})

	t.Run("Health", func(t *testing.T) {
		code, body := get("/healthz")
		if code != http.StatusOK {
			t.Fatalf("GET /healthz: status %d", code)
		}
		var got map[string]any
		if err := json.Unmarshal([]byte(body), &got); err != nil {
			t.Fatalf("Decode body: %v", err)
		}
		if got["status"] != "ok" {
			t.Errorf(`Health status: got %v, want "ok"`, got["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		if code, _ := get("/readyz"); code != http.StatusOK {
			t.Errorf("GET /readyz: status %d, want %d", code, http.StatusOK)
		}
		ready = false
		if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
			t.Errorf("GET /readyz: status %d, want %d", code, http.StatusServiceUnavailable)
		}
	})
}
