package auth

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"github.com/pilab-dev/storefront/apiclient"
	"github.com/pilab-dev/storefront/domain"
	sferrors "github.com/pilab-dev/storefront/errors"
	"github.com/pilab-dev/storefront/events"
	"github.com/pilab-dev/storefront/internal/audit"
	"github.com/pilab-dev/storefront/internal/metrics"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/tracing"
)

const component = "auth"

// Login authenticates with email and password. When the user details can not
// be fetched afterwards, a minimal user is built from the login response and
// the login still succeeds.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	ctx, span := tracing.Tracer.Start(ctx, "auth.Login")
	defer span.End()

	m.begin()

	resp, err := m.backend.Login(ctx, email, password)
	if err == nil && resp.Token == "" {
		err = sferrors.ErrNoAuthToken
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.LoginFailureTotal.WithLabelValues("password").Inc()
		audit.Log(component, "login", email, m.sessions.InstanceID(), "password", false, err)
		return m.fail(ctx, "login failed", err)
	}

	m.tokens.Set(ctx, resp.Token)
	m.backend.SetToken(resp.Token)

	user := m.userAfterLogin(ctx, resp)
	m.establish(ctx, user)

	metrics.LoginSuccessTotal.WithLabelValues("password").Inc()
	audit.Log(component, "login", user.Email, m.sessions.InstanceID(), "password", true, nil)
	return nil
}

func (m *Manager) userAfterLogin(ctx context.Context, resp *apiclient.LoginResponse) *domain.User {
	fallback := minimalUserFromLogin(resp)

	details, err := m.backend.UserDetails(ctx)
	if err != nil {
		m.logger.Warn(ctx, "user details unavailable after login, using login response", log.Fields{
			"error": err.Error(),
		})
		return fallback
	}
	return m.userFromDetails(details, fallback)
}

// LoginWithOAuth exchanges an OAuth authorization code for a session.
func (m *Manager) LoginWithOAuth(ctx context.Context, authCode string) error {
	ctx, span := tracing.Tracer.Start(ctx, "auth.LoginWithOAuth")
	defer span.End()

	m.begin()

	resp, err := m.backend.ExchangeOAuthCode(ctx, authCode)
	if err == nil && resp.Token == "" {
		err = sferrors.ErrNoAuthToken
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.LoginFailureTotal.WithLabelValues("oauth").Inc()
		audit.Log(component, "login", "", m.sessions.InstanceID(), "oauth", false, err)
		return m.fail(ctx, "oauth login failed", err)
	}

	m.tokens.Set(ctx, resp.Token)
	m.backend.SetToken(resp.Token)

	user := m.minimalUserFromOAuth(resp)
	if details, err := m.backend.UserDetails(ctx); err == nil {
		user = m.userFromDetails(details, user)
	} else {
		m.logger.Warn(ctx, "user details unavailable after oauth login", log.Fields{"error": err.Error()})
	}
	m.establish(ctx, user)

	metrics.LoginSuccessTotal.WithLabelValues("oauth").Inc()
	audit.Log(component, "login", user.Email, m.sessions.InstanceID(), "oauth", true, nil)
	return nil
}

// Register creates an account. It does not log the user in.
func (m *Manager) Register(ctx context.Context, req apiclient.RegisterRequest) error {
	ctx, span := tracing.Tracer.Start(ctx, "auth.Register")
	defer span.End()

	m.begin()

	if err := m.backend.Register(ctx, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		audit.Log(component, "register", req.EmailAddress, m.sessions.InstanceID(), "", false, err)
		return m.fail(ctx, "registration failed", err)
	}

	m.update(func(s *State) { s.IsLoading = false })
	audit.Log(component, "register", req.EmailAddress, m.sessions.InstanceID(), "", true, nil)
	return nil
}

// Logout ends the session. Local logout is authoritative: the backend is told
// on a best-effort basis after all local state is gone.
func (m *Manager) Logout(ctx context.Context) {
	m.logout(ctx, "user")
}

func (m *Manager) logout(ctx context.Context, reason string) {
	ctx, span := tracing.Tracer.Start(ctx, "auth.Logout")
	defer span.End()

	email := ""
	if u := m.State().User; u != nil {
		email = u.Email
	}

	m.sessions.Flush(ctx)
	m.setLoggedOut("")
	m.tokens.Clear(ctx)
	m.sessions.Clear(ctx)

	if err := m.backend.Logout(ctx); err != nil {
		m.logger.Warn(ctx, "backend logout failed", log.Fields{"error": err.Error()})
	}
	m.backend.ClearToken()

	metrics.LogoutsTotal.WithLabelValues(reason).Inc()
	audit.Log(component, "logout", email, m.sessions.InstanceID(), reason, true, nil)
	if m.bus != nil {
		m.bus.Publish(events.NewEvent(events.TopicSessionCleared, map[string]interface{}{"reason": reason}))
	}
}

// UpdateUser merges patch into the cached user and persists it (debounced).
// It makes no backend call.
func (m *Manager) UpdateUser(ctx context.Context, patch domain.UserPatch) error {
	var updated *domain.User
	m.update(func(s *State) {
		if !s.IsLoggedIn || s.User == nil {
			return
		}
		updated = patch.Apply(s.User)
		updated.AvatarURL = m.resolveAvatar(updated.AvatarURL)
		s.User = updated
		s.Verification = m.policy.Derive(updated.Flags())
	})
	if updated == nil {
		return sferrors.ErrNotLoggedIn
	}

	m.sessions.Save(ctx, updated.Clone(), false)
	return nil
}

// RequestOrganizationEmailOTP asks the backend to send an OTP to email.
func (m *Manager) RequestOrganizationEmailOTP(ctx context.Context, email string) error {
	ctx, span := tracing.Tracer.Start(ctx, "auth.RequestOrganizationEmailOTP")
	defer span.End()

	m.begin()
	if err := m.backend.SendOTP(ctx, email); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return m.fail(ctx, "sending OTP failed", err)
	}
	m.update(func(s *State) { s.IsLoading = false })
	return nil
}

// VerifyOrganizationEmail confirms the OTP and re-fetches the authoritative
// verification flags. When the re-fetch fails the configured fallback decides
// the outcome.
func (m *Manager) VerifyOrganizationEmail(ctx context.Context, email, otp, role string) error {
	ctx, span := tracing.Tracer.Start(ctx, "auth.VerifyOrganizationEmail")
	defer span.End()

	current := m.State().User
	if current == nil {
		return sferrors.ErrNotLoggedIn
	}

	m.begin()

	if err := m.backend.VerifyOTP(ctx, email, otp, role); err != nil {
		span.SetStatus(codes.Error, err.Error())
		audit.Log(component, "verify_email", current.Email, m.sessions.InstanceID(), email, false, err)
		return m.fail(ctx, "OTP verification failed", err)
	}

	var user *domain.User
	details, err := m.backend.UserDetails(ctx)
	if err != nil {
		m.logger.Warn(ctx, "user details unavailable after OTP verification", log.Fields{
			"error":    err.Error(),
			"fallback": m.fallback.Name(),
		})
		user, err = m.fallback.Resolve(current, err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return m.fail(ctx, "verification status unavailable", err)
		}
	} else {
		user = m.userFromDetails(details, current)
	}
	if user.OrganizationalEmail == "" {
		user.OrganizationalEmail = email
	}

	m.establish(ctx, user)
	audit.Log(component, "verify_email", user.Email, m.sessions.InstanceID(), email, true, nil)
	return nil
}

// RefreshSession re-fetches the user and overwrites the cached copy. A failure
// is treated as an invalid session and logs out.
func (m *Manager) RefreshSession(ctx context.Context) error {
	ctx, span := tracing.Tracer.Start(ctx, "auth.RefreshSession")
	defer span.End()

	details, err := m.backend.UserDetails(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn(ctx, "session refresh failed, logging out", log.Fields{"error": err.Error()})
		m.logout(ctx, "refresh_failed")
		m.update(func(s *State) { s.Error = sferrors.UserMessage(err) })
		return err
	}

	user := m.userFromDetails(details, m.State().User)
	m.sessions.Save(ctx, user, false)
	m.setLoggedIn(user)
	return nil
}

// establish persists user immediately and enters the logged in state.
func (m *Manager) establish(ctx context.Context, user *domain.User) {
	m.sessions.Save(ctx, user, true)
	m.setLoggedIn(user)
}

func (m *Manager) begin() {
	m.update(func(s *State) {
		s.IsLoading = true
		s.Error = ""
	})
}

// fail records err in the state and returns it to the caller.
func (m *Manager) fail(ctx context.Context, msg string, err error) error {
	m.logger.Error(ctx, msg, err)
	m.update(func(s *State) {
		s.IsLoading = false
		s.Error = sferrors.UserMessage(err)
	})
	return err
}
