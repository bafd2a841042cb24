package bundle

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

const legacyNonceSize = 24

// LegacyCipher is the box-style symmetric cipher used for data produced
// before key versioning existed: [nonce:24][box]. No key-agreement step;
// the key is a shared master secret. Callers select it when a session has
// no data-encryption key.
type LegacyCipher struct {
	key [KeySize]byte
}

// NewLegacy constructs a LegacyCipher from a 32-byte master secret.
func NewLegacy(key []byte) (*LegacyCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key length %d: %w", len(key), errs.ErrInvalidKey)
	}
	c := &LegacyCipher{}
	copy(c.key[:], key)
	return c, nil
}

// Encrypt seals plaintext with a random 24-byte nonce prepended.
func (c *LegacyCipher) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [legacyNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 0, legacyNonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &c.key), nil
}

// Decrypt opens a nonce-prefixed box. Authentication failure yields
// ErrDecryptionFailed, never partial plaintext.
func (c *LegacyCipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < legacyNonceSize+secretbox.Overhead {
		return nil, errs.ErrInvalidBundle
	}
	var nonce [legacyNonceSize]byte
	copy(nonce[:], data[:legacyNonceSize])
	pt, ok := secretbox.Open(nil, data[legacyNonceSize:], &nonce, &c.key)
	if !ok {
		return nil, errs.ErrDecryptionFailed
	}
	if pt == nil {
		pt = []byte{}
	}
	return pt, nil
}
