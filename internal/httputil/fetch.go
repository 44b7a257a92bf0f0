// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 << 20
)

// RequestBuilder creates a fresh request for each attempt. Request bodies
// are consumed by a send, so retries cannot reuse one *http.Request.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// NewClient builds an *http.Client from cfg, routing through cfg.Proxy when set.
func NewClient(cfg types.HTTPConfig) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil || proxyURL.Host == "" {
			return nil, NewError("http", KindFatal, eris.Errorf("invalid proxy URL %q", cfg.Proxy))
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// Fetch performs one request attempt and returns the body of a 2xx
// response. Non-2xx statuses and transport failures come back as *Error.
func Fetch(ctx context.Context, client *http.Client, provider string, build RequestBuilder) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, NewError(provider, KindFatal, eris.Wrap(err, "creating request"))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, TransportError(ctx, provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, TransportError(ctx, provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, StatusError(provider, resp.StatusCode, string(body))
	}
	return body, nil
}

// FetchJSON performs one attempt and decodes the JSON body into out.
// Decode failures are reported as KindParse.
func FetchJSON(ctx context.Context, client *http.Client, provider string, build RequestBuilder, out any) error {
	body, err := Fetch(ctx, client, provider, build)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(provider, KindParse, eris.Wrap(err, "decoding response"))
	}
	return nil
}
