package instagram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const StateTTL = 10 * time.Minute

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("oauth state expired")
)

// OAuthState is carried through the Instagram authorization redirect.
type OAuthState struct {
	UserID    uuid.UUID  `json:"user_id"`
	IMOID     *uuid.UUID `json:"imo_id,omitempty"`
	Timestamp int64      `json:"ts"`
}

// SignState encodes state as base64url(json) "." base64url(hmac).
func SignState(secret string, state OAuthState) (string, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + base64.RawURLEncoding.EncodeToString(stateMAC(secret, encoded)), nil
}

func VerifyState(secret, raw string, now time.Time) (*OAuthState, error) {
	encoded, sig, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, ErrInvalidState
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, stateMAC(secret, encoded)) {
		return nil, ErrInvalidState
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidState
	}

	var state OAuthState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, ErrInvalidState
	}

	issued := time.UnixMilli(state.Timestamp)
	if now.Sub(issued) > StateTTL || issued.After(now.Add(time.Minute)) {
		return nil, ErrExpiredState
	}
	return &state, nil
}

func stateMAC(secret, encoded string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	return mac.Sum(nil)
}
