package canon

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// HashAlgorithm tags every content hash produced by ContentHash.
const HashAlgorithm = "fnv1a64"

// ContentHash fingerprints the canonical form of v with 64-bit FNV-1a and
// returns it as "fnv1a64:" followed by sixteen hex digits. It detects change;
// it does not authenticate content.
func ContentHash(v any) string {
	return HashString(Canonicalize(v))
}

// HashString fingerprints an already canonical string.
func HashString(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%s:%016x", HashAlgorithm, h.Sum64())
}

// IsContentHash reports whether s has the shape produced by ContentHash.
func IsContentHash(s string) bool {
	hex, ok := strings.CutPrefix(s, HashAlgorithm+":")
	if !ok || len(hex) != 16 {
		return false
	}
	for _, r := range hex {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
