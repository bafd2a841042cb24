package bundle

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

// hkdfInfo is part of the frozen key-derivation contract; changing it breaks
// interop with every deployed client.
const hkdfInfo = "happy-encryption"

// GenerateKeyPair returns a fresh X25519 private/public key pair. The private
// half never leaves the generating party.
func GenerateKeyPair() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err = rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("%v: %w", err, errs.ErrInvalidKey)
	}
	return priv, pub, nil
}

// DeriveSharedKey performs X25519 ECDH with the peer's public key, then
// expands the shared secret through HKDF-SHA256 (empty salt, fixed info)
// into a 32-byte symmetric key. Derived once per peer relationship and
// cached by the caller.
func DeriveSharedKey(privateKey, peerPublicKey []byte) ([]byte, error) {
	if len(privateKey) != curve25519.ScalarSize || len(peerPublicKey) != curve25519.PointSize {
		return nil, fmt.Errorf("key pair lengths %d/%d: %w", len(privateKey), len(peerPublicKey), errs.ErrInvalidKey)
	}
	secret, err := curve25519.X25519(privateKey, peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrInvalidKey)
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrInvalidKey)
	}
	return key, nil
}
