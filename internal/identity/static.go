package identity

import (
	"context"
	"crypto/subtle"
)

type directoryEntry struct {
	credential []byte
	principal  Principal
}

// StaticResolver resolves credentials from a fixed in-memory directory.
// Every lookup compares against all entries in constant time so the response
// time does not reveal which credential, if any, matched.
type StaticResolver struct {
	entries []directoryEntry
}

// NewStaticResolver copies the directory; later changes to the map are not observed.
func NewStaticResolver(directory map[string]Principal) *StaticResolver {
	entries := make([]directoryEntry, 0, len(directory))
	for cred, p := range directory {
		if cred == "" {
			continue
		}
		entries = append(entries, directoryEntry{credential: []byte(cred), principal: p})
	}
	return &StaticResolver{entries: entries}
}

// DefaultDirectory is the development directory shipped with the service.
func DefaultDirectory() map[string]Principal {
	return map[string]Principal{
		"QAB3RUYA4gsd": {ID: 3222, Email: "fakeuser123@example.com", Tier: TierSilver},
		"Avb3TU8O2ts1": {ID: 1234, Email: "fakeuser234@example.com", Tier: TierGold},
	}
}

func (r *StaticResolver) Resolve(_ context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, ErrUnknownCredential
	}
	candidate := []byte(credential)
	var (
		found Principal
		hit   int
	)
	for _, e := range r.entries {
		if subtle.ConstantTimeCompare(e.credential, candidate) == 1 {
			found = e.principal
			hit = 1
		}
	}
	if hit == 0 {
		return Principal{}, ErrUnknownCredential
	}
	return found, nil
}
