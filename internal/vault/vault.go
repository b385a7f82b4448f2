// Package vault seals small secrets (TOTP seeds) at rest with
// XChaCha20-Poly1305 under a versioned key ring.
//
// Sealed values are encoded as "<kid>.<base64url(nonce||ciphertext)>". New
// values are always sealed under the active key; any key still present in
// the ring can open values sealed under it, which allows rotation without a
// bulk re-encryption step.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrNoActiveKey   = errors.New("vault: active key not in ring")
	ErrUnknownKey    = errors.New("vault: unknown key id")
	ErrMalformed     = errors.New("vault: malformed sealed value")
	ErrOpenFailed    = errors.New("vault: decryption failed")
	ErrInvalidKeyLen = fmt.Errorf("vault: keys must be %d bytes", chacha20poly1305.KeySize)
)

// KeyRing holds the sealing keys indexed by key id.
type KeyRing struct {
	active string
	keys   map[string][]byte
}

// NewKeyRing builds a key ring. active names the key new values are
// sealed with. Key ids must be non-empty and must not contain '.' or ':'.
func NewKeyRing(active string, keys map[string][]byte) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, ErrNoActiveKey
	}

	ring := &KeyRing{active: active, keys: make(map[string][]byte, len(keys))}
	for kid, key := range keys {
		if kid == "" || strings.ContainsAny(kid, ".:") {
			return nil, fmt.Errorf("vault: invalid key id %q", kid)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, ErrInvalidKeyLen
		}
		ring.keys[kid] = append([]byte(nil), key...)
	}
	if _, ok := ring.keys[active]; !ok {
		return nil, ErrNoActiveKey
	}

	return ring, nil
}

// ParseKeyRing parses "kid:base64key[,kid:base64key...]". The first entry
// is the active key. Keys may use standard or URL-safe base64.
func ParseKeyRing(list string) (*KeyRing, error) {
	keys := make(map[string][]byte)
	active := ""
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kid, encoded, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("vault: key entry %q missing kid", entry)
		}
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("vault: key %q: %w", kid, err)
		}
		if _, dup := keys[kid]; dup {
			return nil, fmt.Errorf("vault: duplicate key id %q", kid)
		}
		keys[kid] = key
		if active == "" {
			active = kid
		}
	}

	return NewKeyRing(active, keys)
}

// ActiveKeyID returns the id new values are sealed under.
func (r *KeyRing) ActiveKeyID() string {
	return r.active
}

// Seal encrypts plaintext under the active key. aad is bound to the
// ciphertext and must be supplied again to Open.
func (r *KeyRing) Seal(plaintext, aad []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(r.keys[r.active])
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, aad)
	return r.active + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (r *KeyRing) Open(value string, aad []byte) ([]byte, error) {
	kid, payload, ok := strings.Cut(value, ".")
	if !ok || kid == "" || payload == "" {
		return nil, ErrMalformed
	}

	key, ok := r.keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrOpenFailed
	}

	return plain, nil
}

// NeedsReseal reports whether value was sealed under a key other than the
// active one.
func (r *KeyRing) NeedsReseal(value string) bool {
	kid, _, _ := strings.Cut(value, ".")
	return kid != r.active
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(s); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("invalid base64")
}
