// Package creds generates resource-side usernames and passwords with
// enough entropy that collisions are not a practical concern.
package creds

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	usernamePrefix = "v"
	usernameRandom = 8  // bytes of entropy in the username suffix
	passwordBytes  = 24 // bytes of entropy in generated passwords
	maxRolePart    = 24
)

// Username builds a unique resource-side principal name for a role, e.g.
// "v-readonly-3f62a9c41b7d10ee". Role names are sanitized to characters
// safe for identifier use.
func Username(roleName string) (string, error) {
	suffix, err := randomHex(usernameRandom)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", usernamePrefix, sanitize(roleName), suffix), nil
}

// Password returns a random hex password.
func Password() (string, error) {
	return randomHex(passwordBytes)
}

func randomHex(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto error: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
		if b.Len() >= maxRolePart {
			break
		}
	}
	return b.String()
}
