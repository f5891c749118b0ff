package metrics

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewServerAllowedIPs(t *testing.T) {
	m := New()

	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
	}{
		{"empty list", nil, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR notation", []string{"192.168.0.0/16", "10.0.0.0/8"}, 2},
		{"mixed with blanks", []string{"192.168.1.1", " ", "10.0.0.0/8"}, 2},
		{"with invalid", []string{"192.168.1.1", "invalid", "10.0.0.1/99"}, 1},
		{"IPv6", []string{"::1", "fe80::/10"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(m, Options{AllowedIPs: tt.allowedIPs}, testLogger())
			if len(s.allowed) != tt.wantCount {
				t.Errorf("expected %d allowed networks, got %d", tt.wantCount, len(s.allowed))
			}
		})
	}
}

func TestIsIPAllowed(t *testing.T) {
	s := NewServer(New(), Options{AllowedIPs: []string{
		"192.168.1.100",
		"10.0.0.0/8",
		"::1",
	}}, testLogger())

	tests := []struct {
		ip      string
		allowed bool
	}{
		{"192.168.1.100", true},
		{"192.168.1.101", false},
		{"10.255.255.255", true},
		{"11.0.0.1", false},
		{"::1", true},
		{"2001:db8::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := s.isIPAllowed(net.ParseIP(tt.ip)); got != tt.allowed {
				t.Errorf("isIPAllowed(%s) = %v, want %v", tt.ip, got, tt.allowed)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", false, "192.168.1.100:12345", nil, "192.168.1.100"},
		{"forwarded ignored without trust", false, "127.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.1"}, "127.0.0.1"},
		{"forwarded first hop", true, "127.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.1, 192.168.1.1"}, "10.0.0.1"},
		{"real ip", true, "127.0.0.1:1", map[string]string{"X-Real-IP": "172.16.0.1"}, "172.16.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(New(), Options{TrustProxy: tt.trustProxy}, testLogger())
			req := httptest.NewRequest("GET", "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := s.clientIP(req); got.String() != tt.want {
				t.Errorf("clientIP() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHandlerFiltersMetricsOnly(t *testing.T) {
	m := New()
	m.StoreDesigners.Set(3)
	s := NewServer(m, Options{AllowedIPs: []string{"192.168.1.0/24"}}, testLogger())
	h := s.Handler()

	denied := httptest.NewRequest("GET", "/metrics", nil)
	denied.RemoteAddr = "10.0.0.1:1"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, denied)
	if rec.Code != http.StatusForbidden {
		t.Errorf("denied status = %d, want 403", rec.Code)
	}

	health := httptest.NewRequest("GET", "/health", nil)
	health.RemoteAddr = "10.0.0.1:1"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, health)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	allowed := httptest.NewRequest("GET", "/metrics", nil)
	allowed.RemoteAddr = "192.168.1.7:1"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, allowed)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "reviewdesk_store_designers 3") {
		t.Errorf("metrics body missing store gauge:\n%s", rec.Body.String())
	}
}
