// Package sha256 derives the document ids used in crawl status indices.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// URLID returns the hex SHA-256 digest of rawURL. The execution cluster keys
// status documents the same way, so its status updates overwrite the seed
// documents instead of duplicating them.
func URLID(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}
