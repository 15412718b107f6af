// Package auth manages the client-side session lifecycle: restoration on start,
// login and logout, profile and verification updates, token expiry and
// synchronization with other instances sharing the same storage.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/pilab-dev/storefront/apiclient"
	"github.com/pilab-dev/storefront/domain"
	"github.com/pilab-dev/storefront/events"
	"github.com/pilab-dev/storefront/internal/metrics"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/session"
	"github.com/pilab-dev/storefront/token"
	"github.com/pilab-dev/storefront/tracing"
	"github.com/pilab-dev/storefront/verification"
)

// Backend is the subset of the marketplace API the manager depends on.
// *apiclient.Client implements it.
type Backend interface {
	Login(ctx context.Context, email, password string) (*apiclient.LoginResponse, error)
	Register(ctx context.Context, req apiclient.RegisterRequest) error
	Logout(ctx context.Context) error
	UserDetails(ctx context.Context) (*apiclient.UserDetails, error)
	SendOTP(ctx context.Context, organizationalEmail string) error
	VerifyOTP(ctx context.Context, organizationalEmail, otp, role string) error
	ExchangeOAuthCode(ctx context.Context, authCode string) (*apiclient.OAuthExchangeResponse, error)

	SetToken(token string)
	ClearToken()
}

var _ Backend = (*apiclient.Client)(nil)

// State is the observable session state.
type State struct {
	IsLoggedIn   bool                      `json:"isLoggedIn" yaml:"isLoggedIn"`
	User         *domain.User              `json:"user" yaml:"user"`
	IsLoading    bool                      `json:"isLoading" yaml:"isLoading"`
	Error        string                    `json:"error,omitempty" yaml:"error,omitempty"`
	Verification domain.VerificationStatus `json:"verificationStatus" yaml:"verificationStatus"`
}

func (s State) clone() State {
	s.User = s.User.Clone()
	s.Verification.PendingActions = append([]domain.PendingAction{}, s.Verification.PendingActions...)
	return s
}

// Listener receives every state change, in order. Listeners are called
// synchronously and must not call mutating Manager methods from the callback.
type Listener func(State)

// Config wires the manager's collaborators.
type Config struct {
	Backend  Backend
	Tokens   *token.Store
	Sessions *session.Store
	Bus      *events.Bus

	// Policy is required: there is no implicit verification policy.
	Policy verification.Policy
	// Fallback defaults to verification.OptimisticFallback.
	Fallback verification.Fallback

	// AssetBaseURL is used to resolve relative avatar URLs, typically the API base URL.
	AssetBaseURL string

	Logger log.Logger
}

// Manager owns the session state. It is safe for concurrent use; state
// transitions are applied in the order the triggering calls resolve.
type Manager struct {
	backend   Backend
	tokens    *token.Store
	sessions  *session.Store
	bus       *events.Bus
	policy    verification.Policy
	fallback  verification.Fallback
	assetBase *url.URL
	logger    log.Logger

	mu    sync.RWMutex
	state State

	// notifyMu serializes state updates with their notifications.
	notifyMu    sync.Mutex
	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64

	unsubs    []func()
	closeOnce sync.Once
}

// NewManager validates cfg and creates a Manager in the initializing state.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Backend == nil:
		return nil, errors.New("auth: backend is required")
	case cfg.Tokens == nil:
		return nil, errors.New("auth: token store is required")
	case cfg.Sessions == nil:
		return nil, errors.New("auth: session store is required")
	case cfg.Policy == nil:
		return nil, errors.New("auth: a verification policy must be selected")
	}

	fallback := cfg.Fallback
	if fallback == nil {
		fallback = verification.OptimisticFallback{}
	}

	var assetBase *url.URL
	if cfg.AssetBaseURL != "" {
		u, err := url.Parse(cfg.AssetBaseURL)
		if err != nil {
			return nil, fmt.Errorf("auth: invalid asset base URL: %w", err)
		}
		assetBase = u
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Manager{
		backend:   cfg.Backend,
		tokens:    cfg.Tokens,
		sessions:  cfg.Sessions,
		bus:       cfg.Bus,
		policy:    cfg.Policy,
		fallback:  fallback,
		assetBase: assetBase,
		logger:    logger.With(log.Fields{"component": "auth", "instance": cfg.Sessions.InstanceID()}),
		state: State{
			IsLoading:    true,
			Verification: cfg.Policy.Derive(domain.VerificationFlags{}),
		},
		listeners: make(map[uint64]Listener),
	}, nil
}

// Policy returns the verification policy in effect.
func (m *Manager) Policy() verification.Policy {
	return m.policy
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Subscribe registers l for state changes and returns a function that removes it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

// Init subscribes to token expiry and cross-instance session changes, then
// restores the persisted session. Restoration failures end in the logged out
// state and are not returned.
func (m *Manager) Init(ctx context.Context) error {
	if m.bus != nil {
		m.unsubs = append(m.unsubs, m.bus.Subscribe(events.TopicTokenExpired, m.onTokenExpired))
	}
	m.unsubs = append(m.unsubs, m.sessions.Watch(m.onSessionEvent))

	m.restore(ctx)
	return nil
}

// Close removes the subscriptions made by Init and flushes pending session writes.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		for _, unsub := range m.unsubs {
			unsub()
		}
		m.unsubs = nil
		m.sessions.Flush(context.Background())
	})
	return nil
}

func (m *Manager) restore(ctx context.Context) {
	ctx, span := tracing.Tracer.Start(ctx, "auth.restore")
	defer span.End()

	result := m.restoreSession(ctx)
	metrics.SessionRestoresTotal.WithLabelValues(result).Inc()
	m.logger.Info(ctx, "session restoration finished", log.Fields{"result": result})
}

func (m *Manager) restoreSession(ctx context.Context) string {
	tok := m.tokens.Rehydrate(ctx)
	if tok != "" {
		m.backend.SetToken(tok)
	}

	snap := m.sessions.Load(ctx)
	switch {
	case snap == nil && tok == "":
		m.setLoggedOut("")
		return "empty"

	case snap == nil:
		details, err := m.backend.UserDetails(ctx)
		if err != nil {
			m.logger.Warn(ctx, "failed to rebuild session from token", log.Fields{"error": err.Error()})
			m.discard(ctx)
			return "failed"
		}
		user := m.userFromDetails(details, nil)
		m.sessions.Save(ctx, user, true)
		m.setLoggedIn(user)
		return "rebuilt"

	case !m.sessions.IsValid(snap):
		m.logger.Info(ctx, "discarding stale session", log.Fields{"timestamp": snap.Timestamp})
		m.discard(ctx)
		return "stale"

	case tok == "":
		// An expired token forces a full login even when the snapshot is fresh.
		m.logger.Info(ctx, "discarding session without a valid token")
		m.discard(ctx)
		return "no_token"

	default:
		user := snap.User.Clone()
		user.AvatarURL = m.resolveAvatar(user.AvatarURL)
		m.setLoggedIn(user)
		return "restored"
	}
}

// discard drops all persisted and in-memory session state without a backend call.
func (m *Manager) discard(ctx context.Context) {
	m.sessions.Clear(ctx)
	m.tokens.Clear(ctx)
	m.backend.ClearToken()
	m.setLoggedOut("")
}

func (m *Manager) setLoggedIn(user *domain.User) {
	status := m.policy.Derive(user.Flags())
	m.update(func(s *State) {
		s.IsLoggedIn = true
		s.User = user
		s.IsLoading = false
		s.Error = ""
		s.Verification = status
	})
}

func (m *Manager) setLoggedOut(errMsg string) {
	status := m.policy.Derive(domain.VerificationFlags{})
	m.update(func(s *State) {
		s.IsLoggedIn = false
		s.User = nil
		s.IsLoading = false
		s.Error = errMsg
		s.Verification = status
	})
}

// update applies fn to the state and notifies listeners with the result.
func (m *Manager) update(fn func(*State)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	fn(&m.state)
	snapshot := m.state.clone()
	m.mu.Unlock()

	if snapshot.IsLoggedIn {
		metrics.ActiveSessionGauge.Set(1)
	} else {
		metrics.ActiveSessionGauge.Set(0)
	}

	m.listenersMu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.listenersMu.Unlock()

	for _, l := range listeners {
		l(snapshot.clone())
	}
}
