// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a provider failure. The retry loop and the stages decide
// what to do from the Kind alone.
type Kind int

const (
	// KindTransient covers timeouts, 5xx and connection resets. Retried.
	KindTransient Kind = iota + 1
	// KindRateLimited covers 429 and 403. Not retried; the caller decides
	// whether to halt or request an external session refresh.
	KindRateLimited
	// KindAuth means bad or missing credentials.
	KindAuth
	// KindNotFound is a normal outcome: the record passes through unenriched.
	KindNotFound
	// KindParse is a malformed provider response. Retried once.
	KindParse
	// KindRejected is any other 4xx. Not retried.
	KindRejected
	// KindFatal is an unrecoverable configuration or input problem.
	KindFatal
)

var kindNames = map[Kind]string{
	KindTransient:   "transient",
	KindRateLimited: "rate limited",
	KindAuth:        "auth error",
	KindNotFound:    "not found",
	KindParse:       "parse error",
	KindRejected:    "rejected",
	KindFatal:       "fatal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is a classified provider failure.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(provider string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func IsTransient(err error) bool   { return KindOf(err) == KindTransient }
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }
func IsAuth(err error) bool        { return KindOf(err) == KindAuth }
func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsParse(err error) bool       { return KindOf(err) == KindParse }

// KindForStatus maps an HTTP status code to a Kind. It returns 0 for 2xx
// and 3xx codes.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusForbidden:
		return KindRateLimited
	case code == http.StatusUnauthorized:
		return KindAuth
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusRequestTimeout, code >= 500:
		return KindTransient
	case code >= 400:
		return KindRejected
	}
	return 0
}

// StatusError classifies a non-2xx response. body is a short excerpt of the
// response used in the message.
func StatusError(provider string, code int, body string) *Error {
	kind := KindForStatus(code)
	if kind == 0 {
		kind = KindRejected
	}
	var err error
	if body = strings.TrimSpace(body); body != "" {
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		err = errors.New(body)
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: code, Err: err}
}

// TransportError classifies an error returned by http.Client.Do. When the
// caller's context is done the context error is returned unchanged so it is
// never mistaken for a provider failure.
func TransportError(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// Timeouts, resets, refused connections and DNS or TLS failures are all
	// worth another attempt.
	return &Error{Provider: provider, Kind: KindTransient, Err: err}
}
