package authz

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// CacheKey identifies a cached decision. Credential holds a keyed hash, never
// the raw credential.
type CacheKey struct {
	Credential string
	Resource   string
}

func (k CacheKey) String() string {
	return "authz:" + k.Credential + ":" + k.Resource
}

// KeyHasher derives cache keys with a keyed BLAKE2b-256 hash.
type KeyHasher struct {
	secret []byte
}

// NewKeyHasher builds a hasher. Secrets longer than the BLAKE2b key limit are
// compressed first; an empty secret yields an unkeyed hash.
func NewKeyHasher(secret string) *KeyHasher {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &KeyHasher{secret: key}
}

// HashCredential returns the hex-encoded keyed hash of a credential.
func (h *KeyHasher) HashCredential(credential string) string {
	mac, err := blake2b.New256(h.secret)
	if err != nil {
		// Only possible for keys over 64 bytes, which NewKeyHasher prevents.
		sum := blake2b.Sum256([]byte(credential))
		return hex.EncodeToString(sum[:])
	}
	mac.Write([]byte(credential))
	return hex.EncodeToString(mac.Sum(nil))
}

// Key builds the cache key for (credential, resource).
func (h *KeyHasher) Key(credential, resource string) CacheKey {
	return CacheKey{Credential: h.HashCredential(credential), Resource: resource}
}
