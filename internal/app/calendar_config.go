package app

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/pkg/crypto"
)

// stateKeySalt scopes the derived key to OAuth state.
const stateKeySalt = "syncmeet/calendar-oauth-state/v1"

// GoogleProviderConfig converts CalendarConfig into the calendar package representation.
func (c CalendarConfig) GoogleProviderConfig() calendar.GoogleConfig {
	return calendar.GoogleConfig{
		ClientID:       c.Google.ClientID,
		ClientSecret:   c.Google.ClientSecret,
		RedirectURL:    c.Google.RedirectURL,
		Scopes:         c.Google.Scopes,
		CalendarID:     c.Google.CalendarID,
		RequestTimeout: c.RequestTimeout,
	}
}

// StateKey derives the AES key used to seal OAuth state from the configured secret.
func (c CalendarConfig) StateKey() ([]byte, error) {
	if strings.TrimSpace(c.StateSecret) == "" {
		return nil, fmt.Errorf("calendar: state secret is empty")
	}
	key, err := crypto.DeriveKeyArgon2id(decodeSecret(c.StateSecret), []byte(stateKeySalt), crypto.DefaultArgon2Params())
	if err != nil {
		return nil, fmt.Errorf("calendar: derive state key: %w", err)
	}
	return key, nil
}

// StateCodec builds the OAuth state codec from configuration.
func (c CalendarConfig) StateCodec(now func() time.Time) (*calendar.StateCodec, error) {
	key, err := c.StateKey()
	if err != nil {
		return nil, err
	}
	return calendar.NewStateCodec(key, c.StateTTL, now)
}

// decodeSecret accepts the hex secrets written by ApplyRuntimeDefaults and falls back to the
// raw passphrase bytes for anything else.
func decodeSecret(value string) []byte {
	value = strings.TrimSpace(value)
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) > 0 {
		return decoded
	}
	return []byte(value)
}
