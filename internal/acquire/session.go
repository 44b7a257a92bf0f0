// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultCookieFile = ".gscholar_cookies.json"

// Cookie is one browser cookie as exported from a logged-in Scholar session.
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path,omitempty"`
	Secure   bool     `json:"secure,omitempty"`
	HTTPOnly bool     `json:"http_only,omitempty"`
	Expires  *float64 `json:"expires,omitempty"`
}

// expired reports whether the cookie carries an expiry in the past.
func (c Cookie) expired(now time.Time) bool {
	return c.Expires != nil && *c.Expires > 0 && int64(*c.Expires) < now.Unix()
}

// Session is the cookie jar used by the Scholar source. It is loaded from
// a fixed path and only ever replaced by an explicit Import: when Scholar
// blocks a request the session is invalidated and flagged for a manual
// refresh, never regenerated.
type Session struct {
	path string

	mu          sync.Mutex
	cookies     []Cookie
	refreshedAt time.Time
	invalid     bool
	reason      string
}

// DefaultSessionPath returns ~/.gscholar_cookies.json.
func DefaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultCookieFile
	}
	return filepath.Join(home, defaultCookieFile)
}

// LoadSession reads the cookie file at path. A missing file yields an empty
// session, which still works for light use.
func LoadSession(path string) (*Session, error) {
	if path == "" {
		path = DefaultSessionPath()
	}
	s := &Session{path: path}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "stat cookie file %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reading cookie file %s", path)
	}
	cookies, err := parseCookies(data)
	if err != nil {
		return nil, eris.Wrapf(err, "parsing cookie file %s", path)
	}

	s.cookies = cookies
	s.refreshedAt = info.ModTime()
	return s, nil
}

func parseCookies(data []byte) ([]Cookie, error) {
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, err
	}
	for i, c := range cookies {
		if strings.TrimSpace(c.Name) == "" {
			return nil, eris.Errorf("cookie %d has no name", i)
		}
	}
	return cookies, nil
}

// Path returns the session artifact path.
func (s *Session) Path() string { return s.path }

// Cookies returns a copy of the loaded cookies.
func (s *Session) Cookies() []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Cookie(nil), s.cookies...)
}

// RefreshedAt is when the cookie file was last written.
func (s *Session) RefreshedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshedAt
}

// Header builds a Cookie header from unexpired cookies whose domain
// contains domain (e.g. "google").
func (s *Session) Header(domain string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var parts []string
	for _, c := range s.cookies {
		if !strings.Contains(c.Domain, domain) || c.expired(now) {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Valid reports whether the session may still be used this run.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.invalid
}

// InvalidReason returns why the session was invalidated.
func (s *Session) InvalidReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Invalidate marks the session as blocked. The cookie file is left alone
// so the user can replace it with Import.
func (s *Session) Invalidate(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return
	}
	s.invalid = true
	s.reason = reason
	zap.L().Warn("scholar session invalidated; refresh cookies with `scholar-pipeline cookies import`",
		zap.String("path", s.path),
		zap.String("reason", reason),
	)
}

// Import replaces the session with the JSON cookie array read from r and
// writes it to the session path atomically. It returns the cookie count.
func (s *Session) Import(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, eris.Wrap(err, "reading cookies")
	}
	cookies, err := parseCookies(data)
	if err != nil {
		return 0, eris.Wrap(err, "cookies must be a JSON array of {name, value, domain, ...}")
	}

	out, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return 0, eris.Wrap(err, "encoding cookies")
	}
	if err := writeFileAtomic(s.path, out); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.cookies = cookies
	s.refreshedAt = time.Now()
	s.invalid = false
	s.reason = ""
	s.mu.Unlock()
	return len(cookies), nil
}

// Clear deletes the cookie file. A missing file is not an error.
func (s *Session) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "removing %s", s.path)
	}
	s.mu.Lock()
	s.cookies = nil
	s.refreshedAt = time.Time{}
	s.mu.Unlock()
	return nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place so a crash never leaves a truncated file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "creating %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return eris.Wrap(err, "creating temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return eris.Wrap(err, "writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return eris.Wrap(err, "closing temp file")
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return eris.Wrap(err, "setting permissions")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "renaming into %s", path)
	}
	return nil
}
