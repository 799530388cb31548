// Package session owns the authentication state of one workspace client and
// inspects every reply for session invalidation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ahmad-cheema/file-verse/internal/logging"
	"github.com/ahmad-cheema/file-verse/internal/metrics"
	"github.com/ahmad-cheema/file-verse/pkg/models"
	"github.com/ahmad-cheema/file-verse/pkg/protocol"
	"github.com/ahmad-cheema/file-verse/pkg/transport"
)

var (
	// ErrSessionExpired is wrapped by every error caused by an
	// invalid_session reply.
	ErrSessionExpired = errors.New("session expired")

	// ErrMissingToken is returned when a login succeeds without a token.
	ErrMissingToken = errors.New("login reply carried no token")

	// ErrMissingCredentials is returned before any call when the username
	// or password is empty.
	ErrMissingCredentials = errors.New("username and password required")
)

// AuthError is returned when login or signup fails.
type AuthError struct {
	Op       protocol.Operation
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Username, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// AsAuthError checks if an error is an AuthError and returns it.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Manager holds the session and routes calls through the envelope sender.
type Manager struct {
	sender transport.Sender

	mu        sync.RWMutex
	session   models.Session
	onExpired func(prev models.Session)
}

// New creates a manager with no session.
func New(sender transport.Sender) *Manager {
	return &Manager{sender: sender}
}

// OnExpired registers the hook run after an invalid_session reply cleared
// the session. It receives the session that was dropped.
func (m *Manager) OnExpired(fn func(prev models.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = fn
}

// Token implements transport.TokenSource.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Token
}

// Current returns a copy of the session.
func (m *Manager) Current() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// LoggedIn reports whether a session is held.
func (m *Manager) LoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Valid()
}

// Login authenticates and stores the session. A failed login leaves any
// existing session untouched.
func (m *Manager) Login(ctx context.Context, username, password string) (models.Session, error) {
	if username == "" || password == "" {
		return models.Session{}, &AuthError{Op: protocol.OpUserLogin, Username: username, Err: ErrMissingCredentials}
	}

	resp, err := m.Do(ctx, protocol.OpUserLogin, protocol.Fields{
		"username": username,
		"password": password,
	})
	if err == nil && resp.Token == "" {
		err = ErrMissingToken
	}
	if err != nil {
		metrics.RecordLogin(false)
		logging.Info("login failed", logging.String("username", username), logging.Err(err))
		return models.Session{}, &AuthError{Op: protocol.OpUserLogin, Username: username, Err: err}
	}

	s := models.Session{
		Token:     resp.Token,
		Username:  username,
		ExpiresAt: tokenExpiry(resp.Token),
	}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	metrics.RecordLogin(true)
	logging.Info("logged in", logging.String("username", username))
	return s, nil
}

// Signup creates an account. It does not log in: the server returns no
// token from user_create.
func (m *Manager) Signup(ctx context.Context, username, password, role string) error {
	if username == "" || password == "" {
		return &AuthError{Op: protocol.OpUserCreate, Username: username, Err: ErrMissingCredentials}
	}
	_, err := m.Do(ctx, protocol.OpUserCreate, protocol.Fields{
		"username": username,
		"password": password,
		"role":     role,
	})
	if err != nil {
		return &AuthError{Op: protocol.OpUserCreate, Username: username, Err: err}
	}
	logging.Info("account created", logging.String("username", username))
	return nil
}

// Logout drops the session without contacting the server.
func (m *Manager) Logout() {
	m.mu.Lock()
	prev := m.session
	m.session = models.Session{}
	m.mu.Unlock()
	if prev.Valid() {
		logging.Info("logged out", logging.String("username", prev.Username))
	}
}

// Do sends one operation and runs Observe on the reply. All calls of a
// workspace go through here so no reply escapes the invalidation check.
func (m *Manager) Do(ctx context.Context, op protocol.Operation, fields protocol.Fields) (*protocol.Response, error) {
	resp, err := m.sender.Send(ctx, op, fields)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &transport.Error{Op: op, Err: fmt.Errorf("%w: no reply", transport.ErrMalformedResponse)}
	}
	if err := m.Observe(op, resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Observe classifies a reply. An invalid_session reply clears the session
// and fires the expiry hook whatever the operation was; other error replies
// become *protocol.APIError. A token on a reply refreshes the held session.
func (m *Manager) Observe(op protocol.Operation, resp *protocol.Response) error {
	if resp.SessionInvalid() {
		m.mu.Lock()
		prev := m.session
		m.session = models.Session{}
		hook := m.onExpired
		m.mu.Unlock()

		metrics.RecordSessionExpired()
		logging.Warn("session invalidated by server",
			logging.String("operation", string(op)),
			logging.String("username", prev.Username),
		)
		if hook != nil {
			hook(prev)
		}
		return fmt.Errorf("%w: %w", ErrSessionExpired, &protocol.APIError{Op: op, Reason: resp.Error})
	}

	if !resp.OK() {
		return &protocol.APIError{Op: op, Reason: resp.Error}
	}

	if resp.Token != "" {
		m.mu.Lock()
		if m.session.Valid() && m.session.Token != resp.Token {
			m.session.Token = resp.Token
			m.session.ExpiresAt = tokenExpiry(resp.Token)
			logging.Debug("session token refreshed", logging.String("operation", string(op)))
		}
		m.mu.Unlock()
	}
	return nil
}

// tokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens have no known expiry.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
