package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PayRpc/accessl-dispatch/internal/backend"
	"github.com/PayRpc/accessl-dispatch/internal/breaker"
	"github.com/PayRpc/accessl-dispatch/internal/wire"
)

type fakeDispatcher struct {
	reply []byte
	err   error
}

func (f *fakeDispatcher) RsaOp(ctx context.Context, fp wire.Fingerprint, op wire.Op, pad wire.Padding, input []byte) ([]byte, error) {
	return f.reply, f.err
}

// blockingDispatcher blocks until its context is done and reports the
// context's own error, standing in for a dispatcher stuck waiting on a
// slow backend.
type blockingDispatcher struct{}

func (blockingDispatcher) RsaOp(ctx context.Context, fp wire.Fingerprint, op wire.Op, pad wire.Padding, input []byte) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHealthzReturnsOK(t *testing.T) {
	tbl := backend.New()
	srv := New(tbl, nil, nil, nil, Config{RateLimitRPS: 100, RateLimitBurst: 100}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServersReflectsTableSnapshot(t *testing.T) {
	tbl := backend.New()
	tbl.Push(backend.Backend{ID: 1, Port: 9001}, 1000)
	srv := New(tbl, nil, nil, nil, Config{RateLimitRPS: 100, RateLimitBurst: 100}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Servers []backend.Snapshot `json:"servers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(body.Servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(body.Servers))
	}
}

func TestRateLimitMiddlewareRejectsBurstOverflow(t *testing.T) {
	tbl := backend.New()
	srv := New(tbl, nil, nil, nil, Config{RateLimitRPS: 0.001, RateLimitBurst: 1}, nil)

	first := httptest.NewRecorder()
	srv.Engine().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	srv.Engine().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	tbl := backend.New()
	srv := New(tbl, nil, nil, nil, Config{RateLimitRPS: 100, RateLimitBurst: 100}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRsaOpWithoutDispatcherReturns503(t *testing.T) {
	tbl := backend.New()
	srv := New(tbl, nil, nil, nil, Config{RateLimitRPS: 100, RateLimitBurst: 100}, nil)

	body := []byte(`{"fingerprint":"","op":1,"padding":1,"plaintext":""}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rsa-op", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRsaOpRoundTripsThroughFakeDispatcher(t *testing.T) {
	tbl := backend.New()
	disp := &fakeDispatcher{reply: []byte("olleh")}
	srv := New(tbl, nil, disp, nil, Config{RateLimitRPS: 100, RateLimitBurst: 100}, nil)

	fp := make([]byte, wire.FingerprintSize)
	reqBody, _ := json.Marshal(rsaOpRequest{
		Fingerprint: base64.StdEncoding.EncodeToString(fp),
		Op:          uint32(wire.OpRSAPrivDec),
		Padding:     uint32(wire.PaddingPKCS1),
		Plaintext:   base64.StdEncoding.EncodeToString([]byte("hello")),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rsa-op", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Reply)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if string(decoded) != "olleh" {
		t.Fatalf("reply = %q, want %q", decoded, "olleh")
	}
}

func TestRsaOpRejectsBadFingerprint(t *testing.T) {
	tbl := backend.New()
	disp := &fakeDispatcher{reply: []byte("x")}
	srv := New(tbl, nil, disp, nil, Config{RateLimitRPS: 100, RateLimitBurst: 100}, nil)

	reqBody, _ := json.Marshal(rsaOpRequest{
		Fingerprint: base64.StdEncoding.EncodeToString([]byte("too-short")),
		Op:          uint32(wire.OpRSAPrivDec),
		Padding:     uint32(wire.PaddingPKCS1),
		Plaintext:   "",
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rsa-op", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRsaOpEnforcesCallBudget(t *testing.T) {
	tbl := backend.New()
	srv := New(tbl, nil, blockingDispatcher{}, nil, Config{
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		CallBudget:     20 * time.Millisecond,
	}, nil)

	reqBody, _ := json.Marshal(rsaOpRequest{
		Fingerprint: base64.StdEncoding.EncodeToString(make([]byte, wire.FingerprintSize)),
		Op:          uint32(wire.OpRSAPrivDec),
		Padding:     uint32(wire.PaddingPKCS1),
		Plaintext:   "",
	})

	start := time.Now()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rsa-op", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(rec, req)
	elapsed := time.Since(start)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if elapsed > time.Second {
		t.Fatalf("request took %v, want it bounded by the call budget", elapsed)
	}
}

func TestDebugBreakerOmitsStateWithoutInspector(t *testing.T) {
	tbl := backend.New()
	tbl.Push(backend.Backend{ID: 1, Port: 9001}, 1000)
	srv := New(tbl, nil, nil, nil, Config{RateLimitRPS: 100, RateLimitBurst: 100}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/breaker", nil)
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Breakers []debugBreakerEntry `json:"breakers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(body.Breakers) != 0 {
		t.Fatalf("got %d breaker entries, want 0", len(body.Breakers))
	}
}

func TestDebugBreakerReportsPerBackendState(t *testing.T) {
	tbl := backend.New()
	tbl.Push(backend.Backend{ID: 1, Port: 9001}, 1000)
	tbl.Push(backend.Backend{ID: 2, Port: 9002}, 1000)

	br := breaker.New(breaker.Config{MaxConsecutiveTimeouts: 1, ResetTimeout: time.Minute}, nil)
	br.RecordTimeout(1)

	srv := New(tbl, nil, nil, br, Config{RateLimitRPS: 100, RateLimitBurst: 100}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/breaker", nil)
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Breakers []debugBreakerEntry `json:"breakers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(body.Breakers) != 2 {
		t.Fatalf("got %d breaker entries, want 2", len(body.Breakers))
	}

	states := make(map[backend.ID]string)
	for _, e := range body.Breakers {
		states[e.BackendID] = e.State
	}
	if states[1] != "open" {
		t.Fatalf("backend 1 state = %q, want %q", states[1], "open")
	}
	if states[2] != "closed" {
		t.Fatalf("backend 2 state = %q, want %q", states[2], "closed")
	}
}
