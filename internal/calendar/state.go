package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/syncmeet/pkg/crypto"
)

var (
	// ErrStateExpired is returned for authorisation state older than the codec TTL.
	ErrStateExpired = errors.New("calendar state: expired")
	// ErrStateInvalid is returned for state that cannot be decrypted or parsed.
	ErrStateInvalid = errors.New("calendar state: invalid")
)

const defaultStateTTL = 10 * time.Minute

// StateCodec encodes the identity of the user starting the OAuth flow into the opaque state
// parameter, so the public callback can attribute the grant without a session.
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// StatePayload is the data carried through the OAuth round trip.
type StatePayload struct {
	UserID     string    `json:"u"`
	OwnerEmail string    `json:"o"`
	Nonce      string    `json:"n"`
	IssuedAt   time.Time `json:"iat"`
}

// NewStateCodec constructs a StateCodec using the provided symmetric encryption key and lifetime.
func NewStateCodec(key []byte, ttl time.Duration, now func() time.Time) (*StateCodec, error) {
	length := len(key)
	if length != 16 && length != 24 && length != 32 {
		return nil, fmt.Errorf("calendar state: key must be 16, 24, or 32 bytes, got %d", length)
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StateCodec{
		key: key,
		ttl: ttl,
		now: now,
	}, nil
}

// Encode encrypts the identity into a compact state string.
func (c *StateCodec) Encode(userID, ownerEmail string) (string, error) {
	ownerEmail = strings.ToLower(strings.TrimSpace(ownerEmail))
	if ownerEmail == "" {
		return "", errors.New("calendar state: owner email is required")
	}

	nonce, err := crypto.GenerateToken(12)
	if err != nil {
		return "", fmt.Errorf("calendar state: nonce: %w", err)
	}

	raw, err := json.Marshal(StatePayload{
		UserID:     userID,
		OwnerEmail: ownerEmail,
		Nonce:      nonce,
		IssuedAt:   c.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("calendar state: marshal payload: %w", err)
	}

	encoded, err := crypto.Encrypt(raw, c.key)
	if err != nil {
		return "", fmt.Errorf("calendar state: encrypt payload: %w", err)
	}
	return encoded, nil
}

// Decode decrypts the state string back into a payload while enforcing expiry.
func (c *StateCodec) Decode(token string) (StatePayload, error) {
	var payload StatePayload
	if strings.TrimSpace(token) == "" {
		return payload, ErrStateInvalid
	}

	raw, err := crypto.Decrypt(token, c.key)
	if err != nil {
		return payload, ErrStateInvalid
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, ErrStateInvalid
	}

	if payload.OwnerEmail == "" || payload.IssuedAt.IsZero() {
		return payload, ErrStateInvalid
	}

	if c.now().UTC().After(payload.IssuedAt.Add(c.ttl)) {
		return payload, ErrStateExpired
	}

	return payload, nil
}
