// Package token persists the bearer credential and its independent expiry,
// enforcing the expiry both with a timer and lazily on read.
package token

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilab-dev/storefront/events"
	"github.com/pilab-dev/storefront/internal/metrics"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/storage"
)

const (
	// KeyToken is the storage key of the bearer token.
	KeyToken = "auth_token"
	// KeyExpiry is the storage key of the absolute expiry, in unix milliseconds.
	KeyExpiry = "auth_token_expiry"
	// CookieName is the name of the cookie mirroring the token.
	CookieName = "auth_token"

	// DefaultTTL is the lifetime of a token from the moment it is set.
	DefaultTTL = 2 * time.Hour
)

const (
	triggerTimer = "timer"
	triggerRead  = "read"
)

// Store keeps the bearer token in a storage.Store. It is safe for concurrent use.
type Store struct {
	store     storage.Store
	logger    log.Logger
	bus       *events.Bus
	jar       http.CookieJar
	cookieURL *url.URL
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	timer    *time.Timer
	timerGen uint64
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBus sets the bus that receives events.TopicTokenExpired.
func WithBus(bus *events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithCookieJar mirrors the token as a cookie for apiURL into jar.
func WithCookieJar(jar http.CookieJar, apiURL *url.URL) Option {
	return func(s *Store) {
		s.jar = jar
		s.cookieURL = apiURL
	}
}

// NewStore creates a token store on top of store.
func NewStore(store storage.Store, opts ...Option) *Store {
	s := &Store{
		store:  store,
		logger: log.Nop(),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured token lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Set persists token with an expiry of now + TTL, or the token's own exp claim
// when that comes first, and arms the auto-logout timer.
func (s *Store) Set(ctx context.Context, token string) {
	if token == "" {
		s.Clear(ctx)
		return
	}

	expiry := s.now().Add(s.ttl)
	if exp, ok := jwtExpiry(token); ok && exp.Before(expiry) {
		expiry = exp
	}

	if err := s.store.Set(ctx, KeyToken, token, 0); err != nil {
		s.logger.Error(ctx, "failed to persist auth token", err)
	}
	if err := s.store.Set(ctx, KeyExpiry, formatExpiry(expiry), 0); err != nil {
		s.logger.Error(ctx, "failed to persist auth token expiry", err)
	}

	s.arm(expiry)
	s.mirrorCookie(token, expiry)

	s.logger.Debug(ctx, "auth token stored", log.Fields{
		"token":      log.MaskToken(token),
		"expires_at": expiry,
	})
}

// Get returns the stored token, or "" when none is stored or it has expired.
// An expired token is cleared and announced on the bus.
func (s *Store) Get(ctx context.Context) string {
	token, found, err := s.store.Get(ctx, KeyToken)
	if err != nil {
		s.logger.Error(ctx, "failed to read auth token", err)
		return ""
	}
	if !found || token == "" {
		return ""
	}

	if expiry, ok := s.ExpiresAt(ctx); ok && !s.now().Before(expiry) {
		s.expire(ctx, triggerRead)
		return ""
	}

	return token
}

// Rehydrate returns the stored token like Get and, when there is one, re-arms
// the auto-logout timer for its remaining lifetime.
func (s *Store) Rehydrate(ctx context.Context) string {
	token := s.Get(ctx)
	if token == "" {
		return ""
	}
	if expiry, ok := s.ExpiresAt(ctx); ok {
		s.arm(expiry)
	}
	return token
}

// ExpiresAt returns the persisted expiry.
func (s *Store) ExpiresAt(ctx context.Context) (time.Time, bool) {
	raw, found, err := s.store.Get(ctx, KeyExpiry)
	if err != nil {
		s.logger.Error(ctx, "failed to read auth token expiry", err)
		return time.Time{}, false
	}
	if !found {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn(ctx, "ignoring malformed auth token expiry", log.Fields{"value": raw})
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Clear removes the token and its expiry, cancels the timer and expires the
// cookie mirror.
func (s *Store) Clear(ctx context.Context) {
	s.disarm()

	if err := s.store.Delete(ctx, KeyToken); err != nil {
		s.logger.Error(ctx, "failed to remove auth token", err)
	}
	if err := s.store.Delete(ctx, KeyExpiry); err != nil {
		s.logger.Error(ctx, "failed to remove auth token expiry", err)
	}

	s.expireCookie()
}

// Disarm cancels the auto-logout timer without touching storage. It is used
// when another instance has already cleared the token.
func (s *Store) Disarm() {
	s.disarm()
}

// Close cancels the timer. The underlying storage is not closed.
func (s *Store) Close() error {
	s.disarm()
	return nil
}

func (s *Store) arm(expiry time.Time) {
	delay := expiry.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(delay, func() { s.onTimer(gen) })
}

func (s *Store) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Store) onTimer(gen uint64) {
	s.mu.Lock()
	current := gen == s.timerGen
	s.mu.Unlock()
	if !current {
		return
	}

	ctx := context.Background()

	// Another instance sharing the storage may have stored a newer token.
	if expiry, ok := s.ExpiresAt(ctx); ok && s.now().Before(expiry) {
		s.arm(expiry)
		return
	}

	s.expire(ctx, triggerTimer)
}

func (s *Store) expire(ctx context.Context, trigger string) {
	s.Clear(ctx)

	metrics.TokenExpirationsTotal.WithLabelValues(trigger).Inc()
	s.logger.Info(ctx, "auth token expired", log.Fields{"trigger": trigger})

	if s.bus != nil {
		s.bus.Publish(events.NewEvent(events.TopicTokenExpired, map[string]interface{}{
			"trigger": trigger,
		}))
	}
}

func (s *Store) mirrorCookie(token string, expiry time.Time) {
	if s.jar == nil || s.cookieURL == nil {
		return
	}

	maxAge := int(expiry.Sub(s.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	s.jar.SetCookies(s.cookieURL, []*http.Cookie{{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
		Secure:   true,
	}})
}

func (s *Store) expireCookie() {
	if s.jar == nil || s.cookieURL == nil {
		return
	}

	s.jar.SetCookies(s.cookieURL, []*http.Cookie{{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
		Secure:   true,
	}})
}

// jwtExpiry returns the exp claim of token when it is a JWT. The signature is
// not verified; the backend remains the authority on validity.
func jwtExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func formatExpiry(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
