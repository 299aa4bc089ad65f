// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	Timeout time.Duration
	// BaseURL scopes SessionCookie.
	BaseURL string
	// SessionCookie is "name=value[; name2=value2]", sent with every backend request.
	SessionCookie string
}

// NewOutbound creates the outbound client. Requests carry the session
// cookies so overlay images and feature info are fetched with credentials.
func NewOutbound(opts Options) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if strings.TrimSpace(opts.SessionCookie) != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("session cookie needs an absolute base url, got %q", opts.BaseURL)
		}
		cookies, err := http.ParseCookie(opts.SessionCookie)
		if err != nil {
			return nil, fmt.Errorf("parse session cookie: %w", err)
		}
		jar.SetCookies(u, cookies)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   timeout,
	}, nil
}
