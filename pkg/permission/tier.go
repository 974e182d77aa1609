// Package permission resolves user permission tiers and tracks moderation
// state (bans and temporary restrictions) for the gateway.
package permission

// Tier is a coarse authorization level. Tiers are totally ordered:
// Basic < Trusted < Admin.
type Tier int

const (
	// TierBasic is the default tier for users in no allow-list.
	TierBasic Tier = iota

	// TierTrusted grants access to restricted commands.
	TierTrusted

	// TierAdmin grants moderation operations and optional rate-limit exemption.
	TierAdmin
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierAdmin:
		return "admin"
	case TierTrusted:
		return "trusted"
	default:
		return "basic"
	}
}

// AtLeast reports whether t grants at least the capabilities of other.
func (t Tier) AtLeast(other Tier) bool {
	return t >= other
}
