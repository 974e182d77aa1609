// Package gate orchestrates admission control for incoming chat requests.
// Every message passes through the same pipeline: permission resolution,
// moderation status, rate limiting, then session establishment. The gate
// always returns a Decision; denials are audited and never touch session
// state.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sarvinshrivastava/assistant-gateway/pkg/audit"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/permission"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/ratelimit"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/session"
)

// Denial reasons carried on Decision.Reason.
const (
	ReasonPermission = "permission"
	ReasonRateLimit  = "rate_limit"
	ReasonCapacity   = "capacity"
)

const (
	// DefaultFailureThreshold is how many denials within the failure window
	// flag a user as suspicious.
	DefaultFailureThreshold = 10

	// DefaultFailureWindow is the lookback window for counting denials.
	DefaultFailureWindow = 5 * time.Minute

	// DefaultAutoRestrict is how long a flagged user is auto-restricted.
	DefaultAutoRestrict = 15 * time.Minute
)

// Request is one incoming chat message to be admitted or denied.
type Request struct {
	UserID    string
	ServerID  string
	ChannelID string
	Command   string
	IsDM      bool
}

// Decision is the gate's verdict on a request.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Reason is set on denial: ReasonPermission, ReasonRateLimit or
	// ReasonCapacity.
	Reason string

	// Tier is the resolved permission tier. Valid even on denial when the
	// denial happened after tier resolution.
	Tier permission.Tier

	// RetryAfter is how long to wait before retrying. Only set for
	// rate-limit denials.
	RetryAfter time.Duration

	// SessionCreated reports whether this request established a new session.
	SessionCreated bool
}

// Config holds gate parameters.
type Config struct {
	// AdminExempt skips the rate limiter for admin users. Exempt requests
	// never touch the limiter's buckets.
	AdminExempt bool

	// FailureThreshold flags a user after this many denials within
	// FailureWindow. Defaults to DefaultFailureThreshold.
	FailureThreshold int

	// FailureWindow is the denial lookback window.
	// Defaults to DefaultFailureWindow.
	FailureWindow time.Duration

	// AutoRestrict is how long a flagged user is restricted.
	// Defaults to DefaultAutoRestrict.
	AutoRestrict time.Duration

	// SweepInterval is how often the session sweep runs.
	// Defaults to the session store's default.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	if c.AutoRestrict <= 0 {
		c.AutoRestrict = DefaultAutoRestrict
	}
	return c
}

// Stats aggregates gate, session and moderation state for the operational
// surface.
type Stats struct {
	Sessions         session.Stats `json:"sessions"`
	Admitted         int64         `json:"admitted"`
	DeniedPermission int64         `json:"denied_permission"`
	DeniedRateLimit  int64         `json:"denied_rate_limit"`
	DeniedCapacity   int64         `json:"denied_capacity"`
	SuspiciousFlags  int64         `json:"suspicious_flags"`
	BannedUsers      int           `json:"banned_users"`
	RestrictedUsers  int           `json:"restricted_users"`
	FailingUsers     int           `json:"failing_users"`
}

// Gate runs the admission pipeline. Construct with New; collaborators are
// injected and owned by the gate, Close releases them.
type Gate struct {
	cfg      Config
	resolver *permission.Resolver
	registry *permission.Registry
	limiter  ratelimit.Limiter
	sessions *session.Store
	log      audit.Logger
	failures *failureTracker

	admitted         atomic.Int64
	deniedPermission atomic.Int64
	deniedRateLimit  atomic.Int64
	deniedCapacity   atomic.Int64
	suspiciousFlags  atomic.Int64
}

// New creates a gate and starts the session sweep. The gate takes ownership
// of the limiter, session store and audit logger; Close releases all three.
func New(cfg Config, resolver *permission.Resolver, registry *permission.Registry, limiter ratelimit.Limiter, sessions *session.Store, log audit.Logger) *Gate {
	cfg = cfg.withDefaults()

	g := &Gate{
		cfg:      cfg,
		resolver: resolver,
		registry: registry,
		limiter:  limiter,
		sessions: sessions,
		log:      log,
		failures: newFailureTracker(cfg.FailureThreshold, cfg.FailureWindow),
	}
	sessions.StartSweep(cfg.SweepInterval)
	return g
}

// Check runs the admission pipeline for one request. Denied requests never
// reach the session store.
func (g *Gate) Check(ctx context.Context, req Request, now time.Time) Decision {
	tier, err := g.resolver.Resolve(req.UserID, req.ServerID, req.Command)
	if err != nil {
		g.deniedPermission.Add(1)
		g.record(ctx, audit.NewEvent(audit.KindPermissionDenied, req.UserID).
			WithOrigin(req.ServerID, req.ChannelID).
			WithTier(tier.String()).
			WithDetail(map[string]any{"command": req.Command, "error": err.Error()}))
		g.noteFailure(ctx, req, now)
		return Decision{Reason: ReasonPermission, Tier: tier}
	}

	if status := g.registry.Status(req.UserID, now); status.Blocked(now) {
		g.deniedPermission.Add(1)
		g.record(ctx, audit.NewEvent(audit.KindPermissionDenied, req.UserID).
			WithOrigin(req.ServerID, req.ChannelID).
			WithTier(tier.String()).
			WithDetail(map[string]any{"moderation": moderationState(status), "reason": status.Reason}))
		return Decision{Reason: ReasonPermission, Tier: tier}
	}

	if !(g.cfg.AdminExempt && tier == permission.TierAdmin) {
		decision, err := g.limiter.Check(ctx, req.UserID, now)
		if err != nil {
			// A broken limiter backend fails open; availability wins over
			// strict quota enforcement here.
			slog.Warn("gate: rate limiter unavailable, admitting", "user_id", req.UserID, "error", err)
		} else if !decision.Allowed {
			g.deniedRateLimit.Add(1)
			g.record(ctx, audit.NewEvent(audit.KindRateLimited, req.UserID).
				WithOrigin(req.ServerID, req.ChannelID).
				WithTier(tier.String()).
				WithDetail(map[string]any{"retry_after_seconds": decision.RetryAfter.Seconds()}))
			g.noteFailure(ctx, req, now)
			return Decision{Reason: ReasonRateLimit, Tier: tier, RetryAfter: decision.RetryAfter}
		}
	}

	_, created, err := g.sessions.GetOrCreate(req.UserID, req.ChannelID, req.IsDM, now)
	if err != nil {
		g.deniedCapacity.Add(1)
		g.record(ctx, audit.NewEvent(audit.KindAuthAttempt, req.UserID).
			WithOrigin(req.ServerID, req.ChannelID).
			WithTier(tier.String()).
			WithDetail(map[string]any{"admitted": false, "reason": ReasonCapacity}))
		return Decision{Reason: ReasonCapacity, Tier: tier}
	}

	g.admitted.Add(1)
	g.record(ctx, audit.NewEvent(audit.KindAuthAttempt, req.UserID).
		WithOrigin(req.ServerID, req.ChannelID).
		WithTier(tier.String()).
		WithDetail(map[string]any{"admitted": true, "command": req.Command, "session_created": created}))

	return Decision{Allowed: true, Tier: tier, SessionCreated: created}
}

// Restrict temporarily blocks a user. actor identifies who issued the
// command, for the audit trail.
func (g *Gate) Restrict(ctx context.Context, actor, userID string, duration time.Duration, reason string) {
	until := time.Now().Add(duration)
	g.registry.Restrict(userID, until, reason)
	g.record(ctx, audit.NewEvent(audit.KindAdminAction, userID).
		WithDetail(map[string]any{
			"action": "restrict",
			"actor":  actor,
			"until":  until.Format(time.RFC3339),
			"reason": reason,
		}))
	slog.Info("gate: user restricted", "user_id", userID, "actor", actor, "until", until)
}

// Ban permanently blocks a user until Unban.
func (g *Gate) Ban(ctx context.Context, actor, userID, reason string) {
	g.registry.Ban(userID, reason)
	g.record(ctx, audit.NewEvent(audit.KindAdminAction, userID).
		WithDetail(map[string]any{"action": "ban", "actor": actor, "reason": reason}))
	slog.Info("gate: user banned", "user_id", userID, "actor", actor)
}

// Unban lifts a user's ban and any active restriction.
func (g *Gate) Unban(ctx context.Context, actor, userID string) {
	g.registry.Unban(userID)
	g.record(ctx, audit.NewEvent(audit.KindAdminAction, userID).
		WithDetail(map[string]any{"action": "unban", "actor": actor}))
	slog.Info("gate: user unbanned", "user_id", userID, "actor", actor)
}

// ResetSession destroys a user's session. Idempotent.
func (g *Gate) ResetSession(ctx context.Context, actor, userID string) bool {
	removed := g.sessions.Reset(userID)
	g.record(ctx, audit.NewEvent(audit.KindAdminAction, userID).
		WithDetail(map[string]any{"action": "reset_session", "actor": actor, "removed": removed}))
	return removed
}

// Sessions exposes the session store for post-admission collaborators such
// as the assistant client.
func (g *Gate) Sessions() *session.Store {
	return g.sessions
}

// Stats returns aggregate counters.
func (g *Gate) Stats() Stats {
	now := time.Now()
	banned, restricted := g.registry.Counts(now)
	return Stats{
		Sessions:         g.sessions.Stats(),
		Admitted:         g.admitted.Load(),
		DeniedPermission: g.deniedPermission.Load(),
		DeniedRateLimit:  g.deniedRateLimit.Load(),
		DeniedCapacity:   g.deniedCapacity.Load(),
		SuspiciousFlags:  g.suspiciousFlags.Load(),
		BannedUsers:      banned,
		RestrictedUsers:  restricted,
		FailingUsers:     g.failures.tracked(now),
	}
}

// Close stops the session sweep and releases the limiter and audit logger.
// The audit close flushes any queued events.
func (g *Gate) Close() error {
	return errors.Join(
		g.sessions.Close(),
		g.limiter.Close(),
		g.log.Close(),
	)
}

// noteFailure counts a denial and auto-restricts users who accumulate too
// many within the failure window.
func (g *Gate) noteFailure(ctx context.Context, req Request, now time.Time) {
	count, flagged := g.failures.note(req.UserID, now)
	if !flagged {
		return
	}

	g.suspiciousFlags.Add(1)
	until := now.Add(g.cfg.AutoRestrict)
	g.registry.Restrict(req.UserID, until, "excessive failed attempts")
	g.record(ctx, audit.NewEvent(audit.KindSuspiciousActivity, req.UserID).
		WithOrigin(req.ServerID, req.ChannelID).
		WithDetail(map[string]any{
			"failed_attempts":  count,
			"window_seconds":   g.cfg.FailureWindow.Seconds(),
			"restricted_until": until.Format(time.RFC3339),
		}))
	slog.Warn("gate: suspicious activity, user auto-restricted",
		"user_id", req.UserID, "failed_attempts", count, "until", until)
}

// record writes an audit event. Failures are logged, never propagated.
func (g *Gate) record(ctx context.Context, event audit.Event) {
	if err := g.log.Record(ctx, event); err != nil {
		slog.Error("gate: audit record failed", "kind", event.Kind, "user_id", event.UserID, "error", err)
	}
}

func moderationState(status permission.Status) string {
	if status.Banned {
		return "banned"
	}
	return "restricted"
}
