package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	c := Config{}
	err := c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "stale_timeout")
	require.Contains(t, err.Error(), "ttl_default")
	require.Contains(t, err.Error(), "data_dir")
}

func TestValidate_PerPeerExceedsTotal(t *testing.T) {
	c := Default()
	c.PendingMaxPerPeer = c.PendingMaxTotal + 1
	err := c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot exceed")
}

func TestApplyEnv_OverridesSetVarsOnly(t *testing.T) {
	t.Setenv("INDRANET_DATA_DIR", "/var/lib/indranet")
	t.Setenv("INDRANET_TTL_DEFAULT", "32")
	t.Setenv("INDRANET_ALLOW_LEGACY_UNSIGNED", "true")

	c := Default().ApplyEnv()
	require.Equal(t, "/var/lib/indranet", c.DataDir)
	require.Equal(t, uint8(32), c.TTLDefault)
	require.True(t, c.AllowLegacyUnsigned)
	require.Equal(t, Default().ListenAddress, c.ListenAddress)
}

func TestApplyEnv_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("INDRANET_TTL_DEFAULT", "not-a-number")

	c := Default().ApplyEnv()
	require.Equal(t, Default().TTLDefault, c.TTLDefault)
}
