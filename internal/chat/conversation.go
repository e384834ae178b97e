package chat

import (
	"fmt"
	"strings"
)

// KeySeparator joins the two participant ids of a conversation key.
const KeySeparator = "_"

// Key identifies the direct-message thread between two users.
// It is always in canonical form "lowerId_higherId".
type Key string

func (k Key) String() string { return string(k) }

// CanonicalKey derives the conversation key for the unordered pair {a, b}.
func CanonicalKey(a, b string) (Key, error) {
	if err := validID(a); err != nil {
		return "", err
	}
	if err := validID(b); err != nil {
		return "", err
	}
	if a == b {
		return "", fmt.Errorf("%w: %q with itself", ErrInvalidPair, a)
	}
	if b < a {
		a, b = b, a
	}
	return Key(a + KeySeparator + b), nil
}

// ParseKey splits a canonical key into its two participants.
// Keys written in non-canonical order are rejected.
func ParseKey(k string) (string, string, error) {
	a, b, ok := strings.Cut(k, KeySeparator)
	if !ok {
		return "", "", fmt.Errorf("%w: malformed key %q", ErrInvalidPair, k)
	}
	canon, err := CanonicalKey(a, b)
	if err != nil {
		return "", "", err
	}
	if string(canon) != k {
		return "", "", fmt.Errorf("%w: key %q is not canonical", ErrInvalidPair, k)
	}
	return a, b, nil
}

// Other returns the participant of k that is not userID.
func (k Key) Other(userID string) (string, error) {
	a, b, err := ParseKey(string(k))
	if err != nil {
		return "", err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", fmt.Errorf("%w: %s is not part of %s", ErrNotAuthorized, userID, k)
}

func validID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidPair)
	}
	if strings.Contains(id, KeySeparator) {
		return fmt.Errorf("%w: user id %q contains %q", ErrInvalidPair, id, KeySeparator)
	}
	return nil
}
