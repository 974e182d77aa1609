package audit

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Kind categorizes security-relevant audit events.
type Kind string

const (
	// KindAuthAttempt is a successfully admitted request.
	KindAuthAttempt Kind = "auth_attempt"

	// KindPermissionDenied is a request denied by the permission check.
	KindPermissionDenied Kind = "permission_denied"

	// KindRateLimited is a request denied by the rate limiter.
	KindRateLimited Kind = "rate_limited"

	// KindAdminAction is a moderation or session-management operation.
	KindAdminAction Kind = "admin_action"

	// KindSuspiciousActivity flags abusive request patterns.
	KindSuspiciousActivity Kind = "suspicious_activity"
)

// Event is an immutable record of a security-relevant decision. Events are
// append-only: nothing in this package mutates or deletes a recorded event
// (retention is the store's concern).
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	UserID    string         `json:"user_id"`
	ServerID  string         `json:"server_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Tier      string         `json:"tier,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// NewEvent creates an audit event with a fresh ID and timestamp.
func NewEvent(kind Kind, userID string) Event {
	return Event{
		ID:        generateEventID(),
		Timestamp: time.Now(),
		Kind:      kind,
		UserID:    userID,
	}
}

// WithOrigin adds the server and channel the request came from.
func (e Event) WithOrigin(serverID, channelID string) Event {
	e.ServerID = serverID
	e.ChannelID = channelID
	return e
}

// WithTier adds the resolved permission tier.
func (e Event) WithTier(tier string) Event {
	e.Tier = tier
	return e
}

// WithDetail adds a sanitized free-form payload.
func (e Event) WithDetail(detail map[string]any) Event {
	e.Detail = SanitizeDetail(detail)
	return e
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// SanitizeDetail redacts sensitive keys so raw secrets never reach the
// audit trail.
func SanitizeDetail(detail map[string]any) map[string]any {
	if detail == nil {
		return nil
	}

	sensitiveKeys := map[string]bool{
		"password":      true,
		"secret":        true,
		"token":         true,
		"api_key":       true,
		"authorization": true,
		"credentials":   true,
		"access_token":  true,
		"refresh_token": true,
		"private_key":   true,
		"client_secret": true,
	}

	sanitized := make(map[string]any, len(detail))
	for k, v := range detail {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}
