package permission

import (
	"errors"
	"sync"
)

// ErrServerNotAllowed is returned when a server allow-list is configured and
// the request's server is not on it.
var ErrServerNotAllowed = errors.New("server not in allow-list")

// ErrCommandRestricted is returned when a restricted command is attempted by
// a user below the Trusted tier.
var ErrCommandRestricted = errors.New("command requires trusted tier")

// Config holds the static allow-lists the resolver evaluates against.
type Config struct {
	// AdminUsers are user IDs granted TierAdmin.
	AdminUsers []string

	// TrustedUsers are user IDs granted TierTrusted.
	TrustedUsers []string

	// AllowedServers restricts which servers may use the gateway.
	// Empty means all servers are allowed.
	AllowedServers []string

	// RestrictedCommands require at least TierTrusted.
	RestrictedCommands []string
}

// Resolver maps a user and server to a permission tier. Resolution is a pure
// function of the current configuration and the inputs; Reload swaps the
// configuration atomically so changes take effect on the next call.
type Resolver struct {
	mu                 sync.RWMutex
	admins             map[string]bool
	trusted            map[string]bool
	allowedServers     map[string]bool
	restrictedCommands map[string]bool
}

// NewResolver creates a resolver from the given configuration.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{}
	r.Reload(cfg)
	return r
}

// Reload replaces the resolver's configuration.
func (r *Resolver) Reload(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.admins = toSet(cfg.AdminUsers)
	r.trusted = toSet(cfg.TrustedUsers)
	r.allowedServers = toSet(cfg.AllowedServers)
	r.restrictedCommands = toSet(cfg.RestrictedCommands)
}

// Resolve returns the tier for userID, or an error if the request is denied
// outright. The server allow-list check precedes and is independent of user
// tier resolution. command may be empty for plain messages.
func (r *Resolver) Resolve(userID, serverID, command string) (Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if serverID != "" && len(r.allowedServers) > 0 && !r.allowedServers[serverID] {
		return TierBasic, ErrServerNotAllowed
	}

	tier := TierBasic
	switch {
	case r.admins[userID]:
		tier = TierAdmin
	case r.trusted[userID]:
		tier = TierTrusted
	}

	if command != "" && r.restrictedCommands[command] && !tier.AtLeast(TierTrusted) {
		return tier, ErrCommandRestricted
	}

	return tier, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = true
		}
	}
	return set
}
