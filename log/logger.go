package log

import "context"

// Fields is a set of structured key/value pairs attached to a log entry.
type Fields = map[string]interface{}

// Logger defines the structured logging surface used across the storefront client.
// Library packages accept a Logger and default to Nop() when none is given.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	With(fields map[string]interface{}) Logger // Returns a new logger with added structured fields
}

// MaskToken returns a log-safe prefix of a bearer token.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
