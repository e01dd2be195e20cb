package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charlesng35/syncmeet/pkg/crypto"
)

const (
	jwtSecretBytes   = 48
	stateSecretBytes = 32
)

// Keys reported by ApplyRuntimeDefaults.
const (
	GeneratedJWTSecret   = "auth.jwt.secret"
	GeneratedStateSecret = "calendar.state_secret"
)

type runtimeSecret struct {
	key      string
	value    func(*Config) *string
	generate func() (string, error)
}

var runtimeSecrets = []runtimeSecret{
	{
		key:      GeneratedJWTSecret,
		value:    func(cfg *Config) *string { return &cfg.Auth.JWT.Secret },
		generate: func() (string, error) { return crypto.GenerateToken(jwtSecretBytes) },
	},
	{
		// Hex so decodeSecret recovers the raw bytes.
		key:      GeneratedStateSecret,
		value:    func(cfg *Config) *string { return &cfg.Calendar.StateSecret },
		generate: func() (string, error) { return generateHexKey(stateSecretBytes) },
	},
}

// ApplyRuntimeDefaults fills secrets left empty by configuration with random values that
// live for this process only. Bearer tokens issued elsewhere will not verify against a
// generated JWT secret and pending OAuth states do not survive a restart. The returned set
// names the generated keys so callers can warn without logging values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)
	for _, secret := range runtimeSecrets {
		target := secret.value(cfg)
		if strings.TrimSpace(*target) != "" {
			continue
		}
		value, err := secret.generate()
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", secret.key, err)
		}
		*target = value
		generated[secret.key] = true
	}
	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
