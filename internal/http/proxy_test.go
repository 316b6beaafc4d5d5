package http

import (
	"net/http"
	"net/url"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"

	"github.com/rescale/filehub/internal/config"
	"github.com/rescale/filehub/internal/logging"
)

func TestProxyFuncWithBypass(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")

	tests := []struct {
		name     string
		noProxy  string
		target   string
		bypassed bool
	}{
		{"empty list proxies everything", "", "https://api.example.com/data", false},
		{"wildcard subdomain", "*.example.com", "https://api.example.com/data", true},
		{"exact domain root", "example.com", "https://example.com/data", true},
		{"exact domain matches subdomains", "example.com", "https://api.example.com/data", true},
		{"cidr in range", "10.0.0.0/8", "http://10.1.2.3:8080/api", true},
		{"cidr out of range", "10.0.0.0/8", "http://192.168.1.1/api", false},
		{"non matching host", "internal.corp", "https://files.example.com/", false},
		{"multiple patterns", "localhost, .internal.corp", "http://files.internal.corp/api", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxyFunc := proxyFuncWithBypass(proxyURL, tt.noProxy, logging.NewNopLogger())
			req, _ := http.NewRequest("GET", tt.target, nil)
			result, err := proxyFunc(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.bypassed && result != nil {
				t.Errorf("expected direct connection, got proxy %v", result)
			}
			if !tt.bypassed && (result == nil || result.Host != "proxy.corp:8080") {
				t.Errorf("expected proxy.corp:8080, got %v", result)
			}
		})
	}
}

func TestBuildProxyURL(t *testing.T) {
	cfg := config.NewConfig()
	cfg.ProxyHost = "proxy.corp"

	u := buildProxyURL(cfg)
	if u.Host != "proxy.corp:8080" {
		t.Errorf("expected default port 8080, got %s", u.Host)
	}
	if u.User != nil {
		t.Error("no credentials expected without user")
	}

	cfg.ProxyPort = 3128
	cfg.ProxyUser = "alice"
	if u := buildProxyURL(cfg); u.User != nil {
		t.Error("credentials must not be embedded without a password")
	}

	cfg.ProxyPassword = "pw"
	u = buildProxyURL(cfg)
	if u.Host != "proxy.corp:3128" || u.User.Username() != "alice" {
		t.Errorf("unexpected proxy url %s", u)
	}
}

func TestNeedsProxyPassword(t *testing.T) {
	tests := []struct {
		mode, user, pass string
		want             bool
	}{
		{"no-proxy", "u", "", false},
		{"system", "u", "", false},
		{"basic", "u", "", true},
		{"NTLM", "u", "", true},
		{"basic", "u", "p", false},
		{"basic", "", "", false},
	}
	for _, tt := range tests {
		cfg := &config.Config{ProxyMode: tt.mode, ProxyUser: tt.user, ProxyPassword: tt.pass}
		if got := NeedsProxyPassword(cfg); got != tt.want {
			t.Errorf("NeedsProxyPassword(%s,%q,%q) = %v, want %v", tt.mode, tt.user, tt.pass, got, tt.want)
		}
	}
}

func TestConfigureHTTPClient_Modes(t *testing.T) {
	t.Run("no proxy", func(t *testing.T) {
		cfg := config.NewConfig()
		client, err := ConfigureHTTPClient(cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		tr := client.Transport.(*http.Transport)
		if tr.Proxy != nil {
			t.Error("no-proxy mode should not set a proxy func")
		}
		if client.Timeout != cfg.RequestTimeout() {
			t.Errorf("timeout = %v, want %v", client.Timeout, cfg.RequestTimeout())
		}
	})

	t.Run("ntlm wraps transport", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.ProxyMode = "ntlm"
		cfg.ProxyHost = "proxy.corp"
		client, err := ConfigureHTTPClient(cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := client.Transport.(ntlmssp.Negotiator); !ok {
			t.Errorf("expected ntlmssp.Negotiator, got %T", client.Transport)
		}
	})

	t.Run("missing host falls back", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.ProxyMode = "basic"
		client, err := ConfigureHTTPClient(cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		if client.Transport.(*http.Transport).Proxy != nil {
			t.Error("expected no proxy when host is missing")
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.ProxyMode = "socks"
		if _, err := ConfigureHTTPClient(cfg, nil); err == nil {
			t.Error("expected error for unsupported mode")
		}
	})
}

func TestNewClient_HTTP2BehindProxy(t *testing.T) {
	t.Setenv("DISABLE_HTTP2", "")
	t.Setenv("FORCE_HTTP2", "")

	cfg := config.NewConfig()
	client, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !client.Transport.(*http.Transport).ForceAttemptHTTP2 {
		t.Error("expected HTTP/2 without a proxy")
	}

	cfg.ProxyMode = "basic"
	cfg.ProxyHost = "proxy.corp"
	client, err = NewClient(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if client.Transport.(*http.Transport).ForceAttemptHTTP2 {
		t.Error("expected HTTP/1.1 behind a proxy")
	}
}
