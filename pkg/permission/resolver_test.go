package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier_Ordering(t *testing.T) {
	assert.True(t, TierAdmin.AtLeast(TierTrusted))
	assert.True(t, TierTrusted.AtLeast(TierBasic))
	assert.True(t, TierBasic.AtLeast(TierBasic))
	assert.False(t, TierBasic.AtLeast(TierTrusted))
	assert.False(t, TierTrusted.AtLeast(TierAdmin))
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "basic", TierBasic.String())
	assert.Equal(t, "trusted", TierTrusted.String())
	assert.Equal(t, "admin", TierAdmin.String())
}

func TestResolver_DefaultTier(t *testing.T) {
	r := NewResolver(Config{})

	tier, err := r.Resolve("user-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, TierBasic, tier)
}

func TestResolver_AllowLists(t *testing.T) {
	r := NewResolver(Config{
		AdminUsers:   []string{"admin-1"},
		TrustedUsers: []string{"trusted-1"},
	})

	tests := []struct {
		name   string
		userID string
		want   Tier
	}{
		{"admin user", "admin-1", TierAdmin},
		{"trusted user", "trusted-1", TierTrusted},
		{"unknown user", "user-1", TierBasic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := r.Resolve(tt.userID, "", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tier)
		})
	}
}

func TestResolver_ServerAllowList(t *testing.T) {
	r := NewResolver(Config{
		AdminUsers:     []string{"admin-1"},
		AllowedServers: []string{"server-1"},
	})

	// Allowed server passes.
	tier, err := r.Resolve("user-1", "server-1", "")
	require.NoError(t, err)
	assert.Equal(t, TierBasic, tier)

	// Server check precedes tier resolution: even admins are denied from
	// unlisted servers.
	_, err = r.Resolve("admin-1", "server-2", "")
	assert.ErrorIs(t, err, ErrServerNotAllowed)

	// Empty server ID (direct message) bypasses the server check.
	tier, err = r.Resolve("admin-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, TierAdmin, tier)
}

func TestResolver_EmptyServerListAllowsAll(t *testing.T) {
	r := NewResolver(Config{})

	_, err := r.Resolve("user-1", "any-server", "")
	assert.NoError(t, err)
}

func TestResolver_RestrictedCommands(t *testing.T) {
	r := NewResolver(Config{
		TrustedUsers:       []string{"trusted-1"},
		RestrictedCommands: []string{"delete-event"},
	})

	_, err := r.Resolve("user-1", "", "delete-event")
	assert.ErrorIs(t, err, ErrCommandRestricted)

	tier, err := r.Resolve("trusted-1", "", "delete-event")
	require.NoError(t, err)
	assert.Equal(t, TierTrusted, tier)

	// Unrestricted commands are open to everyone.
	_, err = r.Resolve("user-1", "", "list-events")
	assert.NoError(t, err)
}

func TestResolver_Reload(t *testing.T) {
	r := NewResolver(Config{})

	tier, err := r.Resolve("user-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, TierBasic, tier)

	r.Reload(Config{AdminUsers: []string{"user-1"}})

	tier, err = r.Resolve("user-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, TierAdmin, tier, "reloaded config should take effect immediately")
}
