package client

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// session is the cookie state shared by every request of a client.
// Reset swaps the whole jar so readers never observe a half-cleared session.
type session struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

func newSession() (*session, error) {
	jar, err := newJar()
	if err != nil {
		return nil, err
	}
	return &session{jar: jar}, nil
}

// SetCookies implements http.CookieJar.
func (s *session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	s.jar.SetCookies(u, cookies)
	s.mu.Unlock()
}

// Cookies implements http.CookieJar.
func (s *session) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jar.Cookies(u)
}

// Reset drops all cookies.
func (s *session) Reset() error {
	jar, err := newJar()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jar = jar
	s.mu.Unlock()
	return nil
}
