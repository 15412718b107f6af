package auth

import (
	"context"

	"github.com/pilab-dev/storefront/events"
	"github.com/pilab-dev/storefront/internal/audit"
	"github.com/pilab-dev/storefront/internal/metrics"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/session"
)

// onTokenExpired forces a local logout. The backend is not contacted: the
// token it would need is already gone.
func (m *Manager) onTokenExpired(e events.Event) {
	ctx := context.Background()

	wasLoggedIn := m.State().IsLoggedIn
	m.sessions.Clear(ctx)
	m.backend.ClearToken()
	m.setLoggedOut("")

	if wasLoggedIn {
		metrics.LogoutsTotal.WithLabelValues("expired").Inc()
		audit.Log(component, "logout", "", m.sessions.InstanceID(), "token expired", true, nil)
	}
	m.logger.Info(ctx, "logged out after token expiry", log.Fields{"trigger": e.GetString("trigger")})
}

// onSessionEvent mirrors session changes made by another instance. It never
// calls the backend and never writes the session back.
func (m *Manager) onSessionEvent(e session.Event) {
	ctx := context.Background()

	if e.Deleted {
		// A pending save would write the snapshot back after the logout.
		m.sessions.Discard()
		if !m.State().IsLoggedIn {
			return
		}
		m.tokens.Disarm()
		m.backend.ClearToken()
		m.setLoggedOut("")
		metrics.LogoutsTotal.WithLabelValues("cross_instance").Inc()
		m.logger.Info(ctx, "session cleared by another instance")
		return
	}

	if !m.sessions.IsValid(e.Snapshot) {
		m.logger.Debug(ctx, "ignoring invalid session from another instance")
		return
	}

	tok := m.tokens.Rehydrate(ctx)
	if tok == "" {
		m.logger.Debug(ctx, "ignoring session from another instance without a token")
		return
	}
	m.backend.SetToken(tok)

	user := e.Snapshot.User.Clone()
	user.AvatarURL = m.resolveAvatar(user.AvatarURL)
	m.setLoggedIn(user)
	m.logger.Debug(ctx, "session updated by another instance", log.Fields{
		"origin": e.Snapshot.Origin,
		"seq":    e.Snapshot.Seq,
	})
}
