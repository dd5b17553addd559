package client

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout           = 10 * time.Second
	defaultResponseHeaderTimeout = 5 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultMaxIdleConns          = 100
	defaultMaxIdleConnsPerHost   = 32
	defaultDialTimeout           = 2 * time.Second
	defaultKeepAlive             = 30 * time.Second
)

// HTTPClientConfig tunes outbound HTTP clients. Zero values fall back to
// defaults.
type HTTPClientConfig struct {
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	DialTimeout           time.Duration
	KeepAlive             time.Duration
}

type HTTPClientOption func(*HTTPClientConfig)

func WithTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClientConfig) { c.Timeout = d }
}

func WithResponseHeaderTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClientConfig) { c.ResponseHeaderTimeout = d }
}

func WithMaxIdleConnsPerHost(n int) HTTPClientOption {
	return func(c *HTTPClientConfig) { c.MaxIdleConnsPerHost = n }
}

// NewHTTPClient builds an *http.Client that never waits forever.
func NewHTTPClient(opts ...HTTPClientOption) *http.Client {
	cfg := HTTPClientConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	fillHTTPDefaults(&cfg)

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{Transport: tr, Timeout: cfg.Timeout}
}

func fillHTTPDefaults(c *HTTPClientConfig) {
	if c.Timeout <= 0 {
		c.Timeout = defaultHTTPTimeout
	}
	if c.ResponseHeaderTimeout <= 0 {
		c.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = defaultTLSHandshakeTimeout
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
}
