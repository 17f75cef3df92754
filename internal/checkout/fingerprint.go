package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint derives the idempotency key for one checkout attempt. It hashes
// the session id plus the attempt counter, never cart contents, so an
// unchanged resubmission (double-click, browser back) maps to the same key.
func Fingerprint(sessionID string, attempt int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sessionID, attempt)))
	return hex.EncodeToString(sum[:16])
}
