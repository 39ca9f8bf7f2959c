// Package session manages the pool of platform credentials. Each session is
// a cookie with capability flags plus a lazily fetched anti-forgery token.
// The pool hands out a random capability-matching session per request so no
// single cookie absorbs the whole rate-limit budget.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
)

// Capability scopes what a session may be used for.
type Capability int

const (
	// CapabilityAny matches every session; used for plain reads.
	CapabilityAny Capability = iota
	// CapabilityAudit marks sessions allowed to read the group audit log.
	CapabilityAudit
	// CapabilityRank marks sessions allowed to change group roles.
	CapabilityRank
)

// Session is one platform credential. The anti-forgery token is cached per
// session and refreshed on demand after a write failure invalidates it.
type Session struct {
	Cookie string
	Audit  bool
	Rank   bool

	mu   sync.Mutex
	csrf string
}

type fileEntry struct {
	Cookie string `json:"cookie"`
	Audit  bool   `json:"audit"`
	Rank   bool   `json:"rank"`
}

// Pool selects sessions by capability and manages their anti-forgery tokens.
type Pool struct {
	mu       sync.Mutex
	sessions []*Session

	http    *http.Client
	authURL string
	logger  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithHTTPClient overrides the HTTP client used for token handshakes.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pool) { p.http = c }
}

// WithAuthURL overrides the endpoint used for the anti-forgery handshake.
func WithAuthURL(url string) Option {
	return func(p *Pool) { p.authURL = url }
}

// WithLogger attaches a logger. Nil-safe.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New constructs a pool from explicit sessions.
func New(sessions []*Session, opts ...Option) (*Pool, error) {
	if len(sessions) == 0 {
		return nil, fmt.Errorf("at least one session is required")
	}
	p := &Pool{
		sessions: sessions,
		http:     http.DefaultClient,
		authURL:  "https://auth.roblox.com/",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// LoadFile reads sessions from a JSON file of {cookie, audit, rank} entries.
func LoadFile(path string, opts ...Option) (*Pool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sessions file: %w", err)
	}
	var entries []fileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse sessions file: %w", err)
	}
	sessions := make([]*Session, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Cookie) == "" {
			continue
		}
		sessions = append(sessions, &Session{Cookie: e.Cookie, Audit: e.Audit, Rank: e.Rank})
	}
	return New(sessions, opts...)
}

// Get returns a random session matching the capability.
func (p *Pool) Get(cap Capability) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	matching := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		switch cap {
		case CapabilityAudit:
			if s.Audit {
				matching = append(matching, s)
			}
		case CapabilityRank:
			if s.Rank {
				matching = append(matching, s)
			}
		default:
			matching = append(matching, s)
		}
	}
	if len(matching) == 0 {
		return nil, fmt.Errorf("no session available for capability %d", cap)
	}
	return matching[rand.Intn(len(matching))], nil
}

// CSRF returns the session's anti-forgery token, performing the handshake
// when the cached token has been invalidated or never fetched.
func (p *Pool) CSRF(ctx context.Context, s *Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csrf != "" {
		return s.csrf, nil
	}

	token, err := p.fetchCSRF(ctx, s.Cookie)
	if err != nil {
		return "", err
	}
	s.csrf = token
	if p.logger != nil {
		p.logger.DebugContext(ctx, "anti-forgery token refreshed")
	}
	return token, nil
}

// InvalidateCSRF drops the cached token so the next use refreshes it. Called
// after a write failure, since the platform rotates tokens server-side.
func (p *Pool) InvalidateCSRF(s *Session) {
	s.mu.Lock()
	s.csrf = ""
	s.mu.Unlock()
}

// fetchCSRF performs the token handshake: an unauthenticated-token POST is
// rejected with the fresh token in a response header.
func (p *Pool) fetchCSRF(ctx context.Context, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Cookie", ".ROBLOSECURITY="+cookie+";")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("anti-forgery handshake: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	token := resp.Header.Get("x-csrf-token")
	if token == "" {
		return "", fmt.Errorf("anti-forgery handshake returned no token (status %d)", resp.StatusCode)
	}
	return token, nil
}
