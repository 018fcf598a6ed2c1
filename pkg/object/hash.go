package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashSize is the length of a hex-encoded object hash.
const HashSize = 64

// HashBytes computes the raw SHA-256 hash of data and returns it as a
// lowercase hex-encoded Hash.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashObject computes the SHA-256 of the envelope "type len\0content",
// mirroring Git's object hashing but with SHA-256.
func HashObject(objType ObjectType, data []byte) Hash {
	h := sha256.New()
	fmt.Fprintf(h, "%s %d\x00", objType, len(data))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// IsHexPrefix reports whether s consists only of lowercase hex digits and
// is no longer than a full hash. The empty string is not a prefix.
func IsHexPrefix(s string) bool {
	if s == "" || len(s) > HashSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ParseHash normalizes s and validates it as a full object hash.
func ParseHash(s string) (Hash, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != HashSize || !IsHexPrefix(s) {
		return "", fmt.Errorf("invalid object hash %q", s)
	}
	return Hash(s), nil
}

// Short returns the first 8 characters of h.
func (h Hash) Short() string {
	if len(h) > 8 {
		return string(h[:8])
	}
	return string(h)
}

// EmptyTreeHash is the hash of a tree with no entries.
var EmptyTreeHash = HashObject(TypeTree, nil)
