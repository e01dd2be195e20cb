package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsGeneratesMissingSecrets(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{GeneratedJWTSecret: true, GeneratedStateSecret: true}, generated)

	require.NotEmpty(t, cfg.Auth.JWT.Secret)
	require.Len(t, cfg.Calendar.StateSecret, 2*stateSecretBytes)
	require.Len(t, decodeSecret(cfg.Calendar.StateSecret), stateSecretBytes)

	_, err = cfg.Calendar.StateKey()
	require.NoError(t, err)
}

func TestApplyRuntimeDefaultsPreservesExistingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = "configured-jwt-secret"
	cfg.Calendar.StateSecret = "configured-state-secret"

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, "configured-jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "configured-state-secret", cfg.Calendar.StateSecret)
}

func TestApplyRuntimeDefaultsOnlyFillsBlankSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = "configured-jwt-secret"
	cfg.Calendar.StateSecret = "   "

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{GeneratedStateSecret: true}, generated)
	require.Equal(t, "configured-jwt-secret", cfg.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.ErrorContains(t, err, "config is nil")
}

func TestGenerateHexKey(t *testing.T) {
	key, err := generateHexKey(4)
	require.NoError(t, err)
	require.Len(t, key, 8)

	_, err = generateHexKey(0)
	require.Error(t, err)
}
