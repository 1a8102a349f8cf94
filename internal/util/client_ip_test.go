package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", " ", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{"untrusted peer ignores headers", "198.51.100.10:1234", "203.0.113.5", "203.0.113.6", trusted, "198.51.100.10"},
		{"nil allowlist ignores headers", "10.0.0.20:1234", "203.0.113.5", "", nil, "10.0.0.20"},
		{"trusted peer uses forwarded client", "10.0.0.20:1234", "203.0.113.5", "", trusted, "203.0.113.5"},
		{"skips trusted hops from the right", "192.168.1.10:80", "203.0.113.5, 10.0.0.10", "", trusted, "203.0.113.5"},
		{"spoofed left hop is not trusted", "10.0.0.20:1234", "1.1.1.1, 203.0.113.5", "", trusted, "203.0.113.5"},
		{"x-real-ip when forwarded-for is unusable", "10.0.0.20:1234", "garbage", "203.0.113.7", trusted, "203.0.113.7"},
		{"all hops trusted returns leftmost", "10.0.0.20:1234", "10.0.0.5, 10.0.0.10", "", trusted, "10.0.0.5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/photos/p1/enhance", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := tc.trusted.ClientIP(req).String(); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientKeyGroupsIPv6Prefix(t *testing.T) {
	var trusted *TrustedProxies
	a := httptest.NewRequest(http.MethodPost, "/", nil)
	a.RemoteAddr = "[2001:db8:1:2::10]:443"
	b := httptest.NewRequest(http.MethodPost, "/", nil)
	b.RemoteAddr = "[2001:db8:1:2:ffff::1]:443"
	if trusted.ClientKey(a) != trusted.ClientKey(b) {
		t.Fatalf("same /64 should share a key: %q vs %q", trusted.ClientKey(a), trusted.ClientKey(b))
	}
	if got := trusted.ClientKey(a); got != "2001:db8:1:2::/64" {
		t.Fatalf("unexpected v6 key %q", got)
	}

	v4 := httptest.NewRequest(http.MethodPost, "/", nil)
	v4.RemoteAddr = "198.51.100.10:5000"
	if got := trusted.ClientKey(v4); got != "198.51.100.10" {
		t.Fatalf("unexpected v4 key %q", got)
	}
}

func TestNewTrustedProxies(t *testing.T) {
	got, err := NewTrustedProxies([]string{"", "  "})
	if err != nil || got != nil {
		t.Fatalf("blank list should give nil allowlist, got %v, %v", got, err)
	}
	for _, bad := range []string{"bad-cidr", "10.0.0.0/99"} {
		if _, err := NewTrustedProxies([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
