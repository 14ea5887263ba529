package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// apiKeyIDPrefixLen is how much of a key appears in the derived principal id.
const apiKeyIDPrefixLen = 8

// APIKeySet is an allow-list of API keys. Only BLAKE2b-256 digests are kept in
// memory so a heap dump does not expose the raw keys.
type APIKeySet struct {
	digests [][blake2b.Size256]byte
}

// NewAPIKeySet builds an allow-list from raw keys. Blank entries are ignored,
// which lets an empty RELAY_API_KEYS disable the channel.
func NewAPIKeySet(keys []string) *APIKeySet {
	s := &APIKeySet{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		s.digests = append(s.digests, blake2b.Sum256([]byte(k)))
	}
	return s
}

// Len returns the number of keys in the set.
func (s *APIKeySet) Len() int { return len(s.digests) }

// Contains reports whether key is allowed. Every digest is compared so the
// time taken does not depend on which entry matched.
func (s *APIKeySet) Contains(key string) bool {
	d := blake2b.Sum256([]byte(key))
	found := 0
	for i := range s.digests {
		found |= subtle.ConstantTimeCompare(d[:], s.digests[i][:])
	}
	return found == 1
}

// APIKeyPrincipalID derives a stable identifier from the leading characters
// of a key. The full key never appears in ids or logs.
func APIKeyPrincipalID(key string) string {
	if len(key) > apiKeyIDPrefixLen {
		key = key[:apiKeyIDPrefixLen]
	}
	return "api-" + key
}
