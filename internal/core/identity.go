package core

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
)

// IdentityKey returns the cache key of eff: the first 16 hex characters of a
// SHA-256 over the kind, base directory, framework and the sorted plugin
// map. Two configs share an instance exactly when their keys are equal.
func IdentityKey(eff EffectiveConfig) string {
	h := sha256.New()
	field := func(s string) {
		h.Write([]byte(s)) // hash.Hash.Write never returns an error
		h.Write([]byte{0})
	}

	field(eff.Kind.String())
	field(eff.BaseDir)
	field(eff.Framework)
	field(strconv.Itoa(eff.Workers))
	for _, name := range slices.Sorted(maps.Keys(eff.Plugins)) {
		pc := eff.Plugins[name]
		field(name)
		field(strconv.FormatBool(pc.Enable))
		field(pc.Path)
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// pathHash returns a short stable hash of a path, used for lock file names.
func pathHash(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])[:16]
}
