// Package securityheaders applies a fixed set of response headers to the
// HTTP ingress adapter's acknowledgement responses, compiled once from
// config.SecurityHeadersConfig instead of recomputed per request.
package securityheaders

import (
	"net/http"
	"sync/atomic"

	"github.com/wudi/protogate/internal/config"
)

type headerPair struct {
	Name  string
	Value string
}

// Compiled holds pre-computed security headers for one HTTP adapter.
type Compiled struct {
	headers []headerPair
	applied atomic.Int64
}

// New compiles cfg into a Compiled. A disabled config still compiles (the
// zero-value default X-Content-Type-Options is always included); callers
// check cfg.Enabled before calling Apply.
func New(cfg config.SecurityHeadersConfig) *Compiled {
	xcto := cfg.XContentTypeOptions
	if xcto == "" {
		xcto = "nosniff"
	}
	pairs := []headerPair{{"X-Content-Type-Options", xcto}}

	if cfg.StrictTransportSecurity != "" {
		pairs = append(pairs, headerPair{"Strict-Transport-Security", cfg.StrictTransportSecurity})
	}
	if cfg.ContentSecurityPolicy != "" {
		pairs = append(pairs, headerPair{"Content-Security-Policy", cfg.ContentSecurityPolicy})
	}
	if cfg.XFrameOptions != "" {
		pairs = append(pairs, headerPair{"X-Frame-Options", cfg.XFrameOptions})
	}
	if cfg.ReferrerPolicy != "" {
		pairs = append(pairs, headerPair{"Referrer-Policy", cfg.ReferrerPolicy})
	}
	for name, value := range cfg.CustomHeaders {
		pairs = append(pairs, headerPair{name, value})
	}

	return &Compiled{headers: pairs}
}

// Apply sets every configured header on h.
func (c *Compiled) Apply(h http.Header) {
	c.applied.Add(1)
	for _, p := range c.headers {
		h.Set(p.Name, p.Value)
	}
}

// AppliedCount returns how many times Apply has been called, for the
// adapter's Stats().
func (c *Compiled) AppliedCount() int64 { return c.applied.Load() }
