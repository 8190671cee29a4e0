package providerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gitlab.bluewillows.net/root/dnsfailover/internal/engine"
)

func successResponse(result interface{}) map[string]interface{} {
	return map[string]interface{}{
		"success": true,
		"errors":  []interface{}{},
		"result":  result,
	}
}

func errorResponse(code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"errors": []map[string]interface{}{
			{"code": code, "message": message},
		},
		"result": nil,
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9")

	if c.apiEndpoint != DefaultAPIEndpoint {
		t.Errorf("expected default endpoint, got %s", c.apiEndpoint)
	}
	if c.ttl != 300 {
		t.Errorf("expected default ttl 300, got %d", c.ttl)
	}
}

func TestPing_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/tokens/verify" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header: %s", got)
		}
		_ = json.NewEncoder(w).Encode(successResponse(map[string]string{"status": "active"}))
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestPing_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := New("bad-tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	err := c.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Error("auth failure should not be classified as transient")
	}
}

func TestReadTarget_ClassifiesCNAMEAsPrimary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(successResponse([]wireRecord{
			{ID: "1", Type: "CNAME", Name: "app.example.com", Content: "tunnel-id.cfargotunnel.com", Proxied: true},
		}))
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	target, err := c.ReadTarget(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != engine.TargetPrimary {
		t.Errorf("expected PRIMARY, got %s", target)
	}
}

func TestReadTarget_ClassifiesAAsFailover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(successResponse([]wireRecord{
			{ID: "1", Type: "A", Name: "app.example.com", Content: "203.0.113.9", Proxied: false},
		}))
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	target, err := c.ReadTarget(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != engine.TargetFailover {
		t.Errorf("expected FAILOVER, got %s", target)
	}
}

func TestReadTarget_NoRecordIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(successResponse([]wireRecord{}))
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	target, err := c.ReadTarget(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != engine.TargetUnknown {
		t.Errorf("expected UNKNOWN, got %s", target)
	}
}

func TestSetTarget_CreatesRecordWhenMissing(t *testing.T) {
	var sawCreate bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(successResponse([]wireRecord{}))
			return
		}
		if r.Method == http.MethodPost {
			sawCreate = true
			_ = json.NewEncoder(w).Encode(successResponse(map[string]string{"id": "new-id"}))
			return
		}
		t.Errorf("unexpected method: %s", r.Method)
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	if err := c.SetTarget(context.Background(), engine.TargetFailover); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawCreate {
		t.Error("expected a create request for a missing record")
	}
}

func TestSetTarget_SkipsWriteWhenAlreadyConverged(t *testing.T) {
	var writeCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(successResponse([]wireRecord{
				{ID: "1", Type: "A", Name: "app.example.com", Content: "203.0.113.9", Proxied: false},
			}))
			return
		}
		writeCalls++
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	if err := c.SetTarget(context.Background(), engine.TargetFailover); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if writeCalls != 0 {
		t.Errorf("expected idempotent SetTarget to skip the write, got %d write calls", writeCalls)
	}
}

func TestSetTarget_UpdatesExistingDivergedRecord(t *testing.T) {
	var sawUpdate bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(successResponse([]wireRecord{
				{ID: "1", Type: "CNAME", Name: "app.example.com", Content: "tunnel-id.cfargotunnel.com", Proxied: true},
			}))
			return
		}
		if r.Method == http.MethodPut {
			sawUpdate = true
			_ = json.NewEncoder(w).Encode(successResponse(map[string]string{"id": "1"}))
			return
		}
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	if err := c.SetTarget(context.Background(), engine.TargetFailover); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawUpdate {
		t.Error("expected an update request for a diverged record")
	}
}

func TestDoRequest_RateLimitedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	err := c.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Error("rate limited error should be transient")
	}
}

func TestDoRequest_APIErrorIsRemoteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(errorResponse(1000, "internal error"))
	}))
	defer server.Close()

	c := New("tok", "zone", "app.example.com", "tunnel-id", "203.0.113.9", WithAPIEndpoint(server.URL))
	err := c.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Error("remote failure should be classified as transient")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		record *Record
		want   engine.DNSTarget
	}{
		{"nil record", nil, engine.TargetUnknown},
		{"matching A", &Record{Type: "A", Content: "203.0.113.9"}, engine.TargetFailover},
		{"non-matching A", &Record{Type: "A", Content: "203.0.113.1"}, engine.TargetUnknown},
		{"matching CNAME", &Record{Type: "CNAME", Content: "tunnel-id.cfargotunnel.com"}, engine.TargetPrimary},
		{"non-matching CNAME", &Record{Type: "CNAME", Content: "other.cfargotunnel.com"}, engine.TargetUnknown},
		{"TXT record", &Record{Type: "TXT", Content: "v=spf1"}, engine.TargetUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.record, "203.0.113.9", "tunnel-id")
			if got != tc.want {
				t.Errorf("classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	desired := Record{Type: "A", Content: "203.0.113.9", Proxied: false}
	if matches(nil, desired) {
		t.Error("nil existing record should never match")
	}
	if !matches(&Record{Type: "a", Content: "203.0.113.9", Proxied: false}, desired) {
		t.Error("expected case-insensitive type match")
	}
	if matches(&Record{Type: "A", Content: "203.0.113.1", Proxied: false}, desired) {
		t.Error("expected content mismatch to fail")
	}
}
