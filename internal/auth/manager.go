package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrSessionExpired      = errors.New("session expired")
)

// ExpiryMargin is how long before token expiry a renewal is forced, to
// absorb clock drift between us and the provider.
const ExpiryMargin = 5 * time.Minute

// Credential is the username/password pair used for session bootstrap.
// Held in process memory only.
type Credential struct {
	Username string
	Password string
}

// Session is a renewable token pair. The vendor API authorizes requests
// with the ID token, so that is what Token exposes.
type Session struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (s Session) Token() string { return s.IDToken }

func (s Session) validAt(now time.Time) bool {
	return s.IDToken != "" && now.Add(ExpiryMargin).Before(s.ExpiresAt)
}

// Config configures a session manager.
type Config struct {
	Endpoint string
	ClientID string
	Timeout  time.Duration
}

// Manager owns the credential exchange and the current session. Renewal is
// single-flight: overlapping EnsureValid calls during an expired window
// coalesce into one exchange whose result every caller observes.
type Manager struct {
	idp    *identityClient
	cred   Credential
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	session  Session
	inflight chan struct{}
	lastErr  error
}

func NewManager(cfg Config, cred Credential, logger *zap.Logger) (*Manager, error) {
	if cred.Username == "" || cred.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		idp:    newIdentityClient(cfg.Endpoint, cfg.ClientID, cfg.Timeout),
		cred:   cred,
		logger: logger,
		now:    time.Now,
	}, nil
}

// NewManagerFromSession attaches to an existing token pair without holding
// credentials. When the refresh token is rejected there is nothing to fall
// back to, so renewal fails with ErrSessionExpired and the caller must
// re-authenticate with user input.
func NewManagerFromSession(cfg Config, session Session, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		idp:     newIdentityClient(cfg.Endpoint, cfg.ClientID, cfg.Timeout),
		logger:  logger,
		now:     time.Now,
		session: session,
	}
}

// Authenticate performs a full password exchange, replacing any session.
func (m *Manager) Authenticate(ctx context.Context) (Session, error) {
	return m.exchange(ctx, true)
}

// EnsureValid returns the current session, renewing it first when expired
// or within the expiry margin. Callers use it before every outbound request.
func (m *Manager) EnsureValid(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.session.validAt(m.now()) {
		session := m.session
		m.mu.Unlock()
		return session, nil
	}
	m.mu.Unlock()

	return m.exchange(ctx, false)
}

// Invalidate drops the session. The next EnsureValid performs a full login.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.session = Session{}
	m.mu.Unlock()
	tokenValid.Set(0)
}

// Session returns the current session without renewing it.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// exchange coalesces concurrent renewals into a single provider round trip.
func (m *Manager) exchange(ctx context.Context, forceLogin bool) (Session, error) {
	m.mu.Lock()
	if !forceLogin && m.session.validAt(m.now()) {
		// Another caller renewed while we were waiting for the lock.
		session := m.session
		m.mu.Unlock()
		return session, nil
	}

	if m.inflight != nil {
		done := m.inflight
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return Session{}, ctx.Err()
		}
		m.mu.Lock()
		session, err := m.session, m.lastErr
		m.mu.Unlock()
		if err != nil {
			return Session{}, err
		}
		return session, nil
	}

	done := make(chan struct{})
	m.inflight = done
	current := m.session
	m.mu.Unlock()

	session, err := m.doExchange(ctx, current, forceLogin)

	m.mu.Lock()
	m.inflight = nil
	m.lastErr = err
	if err == nil {
		m.session = session
	} else if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrSessionExpired) {
		m.session = Session{}
	}
	close(done)
	m.mu.Unlock()

	if err != nil {
		refreshFailure.Inc()
		tokenValid.Set(0)
		return Session{}, err
	}
	refreshSuccess.Inc()
	tokenValid.Set(1)
	return session, nil
}

func (m *Manager) doExchange(ctx context.Context, current Session, forceLogin bool) (Session, error) {
	if !forceLogin && current.RefreshToken != "" {
		m.logger.Debug("refreshing session token")
		result, err := m.idp.refreshAuth(ctx, current.RefreshToken)
		if err == nil {
			// Cognito does not rotate the refresh token on refresh.
			return m.sessionFromResult(result, current.RefreshToken), nil
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			return Session{}, err
		}
		if m.cred.Username == "" {
			return Session{}, fmt.Errorf("%w: refresh token rejected and no credentials held", ErrSessionExpired)
		}
		m.logger.Warn("refresh token rejected, falling back to password auth", zap.Error(err))
	}

	if m.cred.Username == "" {
		return Session{}, fmt.Errorf("%w: no credentials held", ErrSessionExpired)
	}

	m.logger.Debug("authenticating with identity provider")
	result, err := m.idp.passwordAuth(ctx, m.cred.Username, m.cred.Password)
	if err != nil {
		return Session{}, err
	}
	return m.sessionFromResult(result, result.RefreshToken), nil
}

func (m *Manager) sessionFromResult(result authenticationResult, refreshToken string) Session {
	return Session{
		IDToken:      result.IDToken,
		AccessToken:  result.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    m.now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}
}
