// Package session tracks per-user conversation sessions for the gateway.
// A session is the bounded-lifetime handle the surrounding service uses to
// keep conversation continuity with the assistant backend; it is created on
// the first admitted request and evicted after an idle timeout or when the
// store reaches capacity.
package session

import "time"

// Exchange is one message in a session's conversation history.
type Exchange struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// At is when the exchange was recorded.
	At time.Time `json:"at"`
}

// Session is one user's conversation context. At most one live session
// exists per user. The conversation history is owned exclusively by the
// session; the thread ID is a weak reference to a platform thread whose
// lifecycle the chat platform controls.
type Session struct {
	// Owner is the platform user ID the session belongs to.
	Owner string

	// ChannelID is the channel the session is currently bound to. A user
	// switching channels rebinds the existing session rather than creating
	// a new one.
	ChannelID string

	// IsDM reports whether the session lives in a direct-message channel.
	IsDM bool

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastActiveAt is the most recent activity timestamp.
	LastActiveAt time.Time

	// ThreadID is the platform thread bound to this session, if any.
	ThreadID string

	// History is the ordered conversation history.
	History []Exchange

	// ConversationActive reports whether a continuous conversation flow is
	// in progress (the user can keep talking without re-mentioning the bot).
	ConversationActive bool

	// ConversationStartedAt is when the active conversation began.
	ConversationStartedAt time.Time
}

// Info is a read-only session summary for the operational surface.
type Info struct {
	Owner              string    `json:"user_id"`
	ChannelID          string    `json:"channel_id"`
	IsDM               bool      `json:"is_dm"`
	CreatedAt          time.Time `json:"created_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
	ThreadID           string    `json:"thread_id,omitempty"`
	HistoryLength      int       `json:"history_length"`
	ConversationActive bool      `json:"conversation_active"`
}

// Stats summarizes store state for the operational surface.
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	DMSessions     int `json:"dm_sessions"`
	ServerSessions int `json:"server_sessions"`
	ActiveThreads  int `json:"active_threads"`
	MaxSessions    int `json:"max_sessions"`
}

func (s *Session) info() Info {
	return Info{
		Owner:              s.Owner,
		ChannelID:          s.ChannelID,
		IsDM:               s.IsDM,
		CreatedAt:          s.CreatedAt,
		LastActiveAt:       s.LastActiveAt,
		ThreadID:           s.ThreadID,
		HistoryLength:      len(s.History),
		ConversationActive: s.ConversationActive,
	}
}
