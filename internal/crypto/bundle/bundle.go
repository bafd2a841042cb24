// Package bundle implements the versioned encrypted-bundle wire format and
// the key-derivation protocol shared by every client platform. The byte
// layouts here are a frozen contract: peers written in other languages must
// produce and accept identical bundles.
package bundle

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

// Bundle layouts:
//
//	v0: [0x00][nonce:12][ciphertext][tag:16]
//	v1: [0x01][keyVersion:2 BE][nonce:12][ciphertext][tag:16]
const (
	versionV0 = 0x00
	versionV1 = 0x01

	// KeySize is the only accepted symmetric key length.
	KeySize = 32

	nonceSize = 12
	tagSize   = 16

	minLenV0 = 1 + nonceSize + tagSize
	minLenV1 = 1 + 2 + nonceSize + tagSize
)

// Sealer is the symmetric primitive per-call payload encryption is built on.
// Implemented by Cipher (AES-GCM bundles) and LegacyCipher (secretbox).
type Sealer interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Cipher seals plaintexts into versioned AES-256-GCM bundles under one key.
// Nonces are 4 random bytes followed by an 8-byte big-endian counter, so one
// long-lived key never revisits a nonce even under high throughput.
type Cipher struct {
	aead       cipher.AEAD
	keyVersion uint16
	counter    atomic.Uint64
}

// New constructs a Cipher with key version 0.
func New(key []byte) (*Cipher, error) { return NewWithKeyVersion(key, 0) }

// NewWithKeyVersion constructs a Cipher that stamps keyVersion into every
// emitted v1 bundle.
func NewWithKeyVersion(key []byte, keyVersion uint16) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key length %d: %w", len(key), errs.ErrInvalidKey)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrInvalidKey)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrInvalidKey)
	}
	return &Cipher{aead: aead, keyVersion: keyVersion}, nil
}

// KeyVersion reports the key version stamped into emitted bundles.
func (c *Cipher) KeyVersion() uint16 { return c.keyVersion }

// Encrypt seals plaintext into a bundle in the newest format (v1).
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce, err := c.nextNonce()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, minLenV1+len(plaintext))
	out = append(out, versionV1)
	out = binary.BigEndian.AppendUint16(out, c.keyVersion)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a bundle of any understood format version. It never returns
// partial plaintext: any authentication failure yields ErrDecryptionFailed.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errs.ErrInvalidBundle
	}
	var nonce, ct []byte
	switch data[0] {
	case versionV0:
		if len(data) < minLenV0 {
			return nil, errs.ErrInvalidBundle
		}
		nonce, ct = data[1:1+nonceSize], data[1+nonceSize:]
	case versionV1:
		if len(data) < minLenV1 {
			return nil, errs.ErrInvalidBundle
		}
		nonce, ct = data[3:3+nonceSize], data[3+nonceSize:]
	default:
		return nil, fmt.Errorf("version %#x: %w", data[0], errs.ErrUnsupportedFormat)
	}
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errs.ErrDecryptionFailed
	}
	if pt == nil {
		pt = []byte{}
	}
	return pt, nil
}

// nextNonce returns 4 fresh random bytes followed by the next counter value.
func (c *Cipher) nextNonce() ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce[:4]); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint64(nonce[4:], c.counter.Add(1))
	return nonce, nil
}

// KeyVersion extracts the key version from a v1 bundle so the caller can
// select the right key before constructing a Cipher. v0 bundles report 0.
func KeyVersion(data []byte) (uint16, error) {
	if len(data) == 0 {
		return 0, errs.ErrInvalidBundle
	}
	switch data[0] {
	case versionV0:
		if len(data) < minLenV0 {
			return 0, errs.ErrInvalidBundle
		}
		return 0, nil
	case versionV1:
		if len(data) < minLenV1 {
			return 0, errs.ErrInvalidBundle
		}
		return binary.BigEndian.Uint16(data[1:3]), nil
	default:
		return 0, fmt.Errorf("version %#x: %w", data[0], errs.ErrUnsupportedFormat)
	}
}
