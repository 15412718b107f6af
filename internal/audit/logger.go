package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event represents an audit log event of a session transition.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`    // Email or user id
	Instance  string    `json:"instance,omitempty"` // Instance that performed the action
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

var (
	mu          sync.RWMutex
	auditLogger = zerolog.New(os.Stderr).With().Logger()
)

// SetOutput redirects audit events to w. A nil w discards them.
func SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	mu.Lock()
	defer mu.Unlock()
	auditLogger = zerolog.New(w).With().Logger()
}

// Log records an audit event.
func Log(component, action, user, instance, details string, success bool, err error) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Component: component,
		Action:    action,
		User:      user,
		Instance:  instance,
		Details:   details,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}

	mu.RLock()
	logger := auditLogger
	mu.RUnlock()

	entry, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Msg("Failed to marshal audit event to JSON")
		logger.Error().
			Str("component", component).
			Str("action", action).
			Str("user", user).
			Bool("success", success).
			Err(err).
			Msg("Audit Log (fallback)")
		return
	}
	logger.Log().RawJSON("audit_event", entry).Msg("")
}
