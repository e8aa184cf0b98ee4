package audit

import (
	"crypto/sha256"
	"encoding/base64"
)

// Fingerprint returns a non-reversible identifier for a secret, so audit
// entries and lease records can be correlated with an issued credential
// without ever recording the secret itself.
func Fingerprint(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(hash[:])
}
