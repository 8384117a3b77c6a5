package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprint canonically encodes the semantic fields of a request and
// hashes them. Two requests fingerprint equal iff they would perform the
// same mutation, which is what key-reuse detection compares.
func fingerprint(fields ...any) string {
	payload, _ := json.Marshal(fields)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
