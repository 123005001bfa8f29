package config

import (
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// DefaultRequestTimeout bounds a whole HTTP request; there is no
// per-byte deadline.
const DefaultRequestTimeout = 120 * time.Second

// NewHTTPClient builds the shared HTTP client. Proxy selection follows
// HTTPS_PROXY/HTTP_PROXY/ALL_PROXY and the NO_PROXY bypass list (comma
// separated, "*" for all, leading dot for suffix, exact host).
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	proxyCfg := httpproxy.FromEnvironment()
	proxyFunc := proxyCfg.ProxyFunc()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
