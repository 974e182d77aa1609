package session

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTimeout is the idle timeout after which a session expires.
	DefaultTimeout = 30 * time.Minute

	// DefaultMaxSessions bounds the number of live sessions.
	DefaultMaxSessions = 100

	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultConversationTimeout ends idle conversation flows while leaving
	// the session itself alive.
	DefaultConversationTimeout = 90 * time.Second
)

// ErrCapacity is returned when a session cannot be created because the
// configured capacity cannot be satisfied even after evicting the
// least-recently-active session. It signals a misconfiguration, not a
// process-fatal condition.
var ErrCapacity = errors.New("session capacity exhausted")

// Config holds session store parameters.
type Config struct {
	// Timeout is the idle timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxSessions bounds live sessions. Defaults to DefaultMaxSessions.
	MaxSessions int

	// ConversationTimeout ends idle conversation flows.
	// Defaults to DefaultConversationTimeout.
	ConversationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.ConversationTimeout <= 0 {
		c.ConversationTimeout = DefaultConversationTimeout
	}
	return c
}

// Store is an in-memory session store with LRU-by-activity capacity
// eviction. Sessions are kept in a map plus an activity-ordered list so the
// least-recently-active session is found in O(1) when capacity is reached.
// All operations take a single short critical section with no I/O inside,
// which gives the per-user check-then-act atomicity the request path needs.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*list.Element // user ID -> element whose Value is *Session
	byAge    *list.List               // front = most recently active
	threads  map[string]string        // thread ID -> user ID
	cfg      Config

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates an in-memory session store.
func NewStore(cfg Config) *Store {
	return &Store{
		sessions: make(map[string]*list.Element),
		byAge:    list.New(),
		threads:  make(map[string]string),
		cfg:      cfg.withDefaults(),
	}
}

// GetOrCreate returns the user's live session, refreshing its activity
// timestamp, or creates a fresh one. A user switching channels rebinds the
// existing session. created reports whether a new session was constructed.
func (s *Store) GetOrCreate(userID, channelID string, isDM bool, now time.Time) (sess *Session, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.sessions[userID]; ok {
		sess = s.touchLocked(elem, now)
		if sess.ChannelID != channelID {
			sess.ChannelID = channelID
			sess.IsDM = isDM
			slog.Debug("session: rebound to new channel", "user_id", userID, "channel_id", channelID)
		}
		return sess, false, nil
	}

	if len(s.sessions) >= s.cfg.MaxSessions {
		if !s.evictOldestLocked() {
			return nil, false, ErrCapacity
		}
	}

	sess = &Session{
		Owner:        userID,
		ChannelID:    channelID,
		IsDM:         isDM,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.sessions[userID] = s.byAge.PushFront(sess)
	slog.Debug("session: created", "user_id", userID, "channel_id", channelID)
	return sess, true, nil
}

// Get returns the user's session and refreshes its activity timestamp, or
// nil if the user has no live session.
func (s *Store) Get(userID string, now time.Time) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	return s.touchLocked(elem, now)
}

// Touch refreshes the user's activity timestamp without returning the
// session. Returns false if the user has no live session.
func (s *Store) Touch(userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.sessions[userID]
	if !ok {
		return false
	}
	s.touchLocked(elem, now)
	return true
}

// Reset destroys the user's session. It is idempotent: resetting a
// non-existent session is a no-op. Returns whether a session was removed.
func (s *Store) Reset(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeLocked(userID)
}

// EvictExpired removes every session idle longer than the configured
// timeout and returns how many were removed. It runs off the request path;
// a session touched after the sweep's "now" keeps its refreshed timestamp
// and survives.
func (s *Store) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	// Walk from the least-recently-active end; stop at the first live one.
	for {
		elem := s.byAge.Back()
		if elem == nil {
			break
		}
		sess := elem.Value.(*Session)
		if now.Sub(sess.LastActiveAt) <= s.cfg.Timeout {
			break
		}
		s.removeLocked(sess.Owner)
		evicted++
	}
	if evicted > 0 {
		slog.Info("session: evicted expired sessions", "count", evicted)
	}
	return evicted
}

// ExpireConversations ends conversation flows idle longer than the
// conversation timeout. Sessions themselves stay alive.
func (s *Store) ExpireConversations(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ended := 0
	for elem := s.byAge.Front(); elem != nil; elem = elem.Next() {
		sess := elem.Value.(*Session)
		if sess.ConversationActive && now.Sub(sess.LastActiveAt) > s.cfg.ConversationTimeout {
			sess.ConversationActive = false
			sess.ConversationStartedAt = time.Time{}
			ended++
		}
	}
	if ended > 0 {
		slog.Info("session: ended idle conversations", "count", ended)
	}
	return ended
}

// StartConversation marks the user's session as being in an active
// conversation flow. Returns false if the user has no session.
func (s *Store) StartConversation(userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.sessions[userID]
	if !ok {
		return false
	}
	sess := s.touchLocked(elem, now)
	sess.ConversationActive = true
	sess.ConversationStartedAt = now
	return true
}

// EndConversation ends the user's active conversation flow.
func (s *Store) EndConversation(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionLocked(userID)
	if !ok {
		return false
	}
	sess.ConversationActive = false
	sess.ConversationStartedAt = time.Time{}
	return true
}

// AppendExchange appends a message to the user's conversation history.
func (s *Store) AppendExchange(userID string, exchange Exchange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionLocked(userID)
	if !ok {
		return false
	}
	sess.History = append(sess.History, exchange)
	return true
}

// History returns up to limit of the user's most recent exchanges.
// limit <= 0 returns the full history.
func (s *Store) History(userID string, limit int) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionLocked(userID)
	if !ok {
		return nil
	}
	history := sess.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Exchange, len(history))
	copy(out, history)
	return out
}

// ClearHistory drops the user's conversation history, keeping the session.
func (s *Store) ClearHistory(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionLocked(userID)
	if !ok {
		return false
	}
	sess.History = nil
	return true
}

// BindThread associates a platform thread with the user's session.
func (s *Store) BindThread(userID, threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionLocked(userID)
	if !ok {
		return false
	}
	if sess.ThreadID != "" {
		delete(s.threads, sess.ThreadID)
	}
	sess.ThreadID = threadID
	s.threads[threadID] = userID
	return true
}

// ThreadOwner returns the user ID bound to a thread, if any.
func (s *Store) ThreadOwner(threadID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.threads[threadID]
	return userID, ok
}

// ReleaseThread drops a thread binding, e.g. when the platform archives or
// deletes the thread.
func (s *Store) ReleaseThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.threads[threadID]
	if !ok {
		return
	}
	delete(s.threads, threadID)
	if sess, ok := s.sessionLocked(userID); ok && sess.ThreadID == threadID {
		sess.ThreadID = ""
	}
}

// List returns summaries of all live sessions, most recently active first.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]Info, 0, len(s.sessions))
	for elem := s.byAge.Front(); elem != nil; elem = elem.Next() {
		infos = append(infos, elem.Value.(*Session).info())
	}
	return infos
}

// Stats returns aggregate counts for the operational surface.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		ActiveSessions: len(s.sessions),
		ActiveThreads:  len(s.threads),
		MaxSessions:    s.cfg.MaxSessions,
	}
	for elem := s.byAge.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*Session).IsDM {
			stats.DMSessions++
		}
	}
	stats.ServerSessions = stats.ActiveSessions - stats.DMSessions
	return stats
}

// StartSweep starts a background goroutine that periodically evicts expired
// sessions and ends idle conversations. The goroutine stops when Close is
// called.
func (s *Store) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				s.EvictExpired(now)
				s.ExpireConversations(now)
			}
		}
	}()
}

// Close stops the sweep goroutine and drops all sessions. It is safe to
// call Close even if StartSweep was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*list.Element)
	s.threads = make(map[string]string)
	s.byAge.Init()
	return nil
}

// evictOldestLocked removes the least-recently-active session. Caller must
// hold s.mu. Returns false if there was nothing to evict.
func (s *Store) evictOldestLocked() bool {
	elem := s.byAge.Back()
	if elem == nil {
		return false
	}
	sess := elem.Value.(*Session)
	s.removeLocked(sess.Owner)
	slog.Info("session: evicted least-recently-active session at capacity", "user_id", sess.Owner)
	return true
}

// removeLocked removes a session and its thread binding. Caller must hold s.mu.
func (s *Store) removeLocked(userID string) bool {
	elem, ok := s.sessions[userID]
	if !ok {
		return false
	}
	sess := elem.Value.(*Session)
	if sess.ThreadID != "" {
		delete(s.threads, sess.ThreadID)
	}
	s.byAge.Remove(elem)
	delete(s.sessions, userID)
	return true
}

// touchLocked refreshes a session's activity timestamp and keeps the
// activity list ordered to match. Every LastActiveAt refresh must go through
// here; eviction relies on the list order agreeing with the timestamps.
// Caller must hold s.mu.
func (s *Store) touchLocked(elem *list.Element, now time.Time) *Session {
	sess := elem.Value.(*Session)
	sess.LastActiveAt = now
	s.byAge.MoveToFront(elem)
	return sess
}

// sessionLocked looks up a session without touching activity ordering.
// Caller must hold s.mu.
func (s *Store) sessionLocked(userID string) (*Session, bool) {
	elem, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Session), true
}
