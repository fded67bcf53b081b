package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/EmrahCan/budget-sub000/codec"
)

var ErrEmptyName = errors.New("keys: empty computation name")

// Derive returns "<name>:<hash>" where hash covers the canonical CBOR form of
// params. Map ordering never affects the result.
func Derive(name string, params any) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	if params == nil {
		return name, nil
	}
	b, err := codec.Canonical(params)
	if err != nil {
		return "", fmt.Errorf("keys: canonical params for %q: %w", name, err)
	}
	sum := sha256.Sum256(b)
	return name + ":" + hex.EncodeToString(sum[:8]), nil
}

// Tag is the namespaced name of an invalidation tag in the shared tier.
func Tag(ns, tag string) string {
	if ns == "" {
		return "tag:" + tag
	}
	return "tag:" + ns + ":" + tag
}

// Namespaced prefixes key with ns when ns is set.
func Namespaced(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + ":" + key
}
