package bundle

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestCipher_RoundTrip(t *testing.T) {
	t.Parallel()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	c, err := NewWithKeyVersion(key, 7)
	require.NoError(t, err)

	for _, pt := range [][]byte{
		{},
		[]byte("x"),
		[]byte("a longer plaintext that spans multiple AES blocks to exercise GCM"),
	} {
		b, err := c.Encrypt(pt)
		require.NoError(t, err)
		require.Equal(t, byte(0x01), b[0])
		require.GreaterOrEqual(t, len(b), 31)

		kv, err := KeyVersion(b)
		require.NoError(t, err)
		require.Equal(t, uint16(7), kv)

		got, err := c.Decrypt(b)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, pt, got)
	}
}

func TestCipher_NonceCounterAdvances(t *testing.T) {
	t.Parallel()
	c, err := New(bytes.Repeat([]byte{1}, KeySize))
	require.NoError(t, err)

	b1, err := c.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b2, err := c.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	n1, n2 := b1[3:15], b2[3:15]
	require.NotEqual(t, n1, n2)
	// counter occupies the trailing 8 bytes and is strictly monotonic
	require.Less(t, string(n1[4:]), string(n2[4:]))
}

func TestCipher_TamperDetection(t *testing.T) {
	t.Parallel()
	c, err := New(bytes.Repeat([]byte{9}, KeySize))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("integrity matters"))
	require.NoError(t, err)

	// flip one bit in every position past the header
	for i := 3; i < len(b); i++ {
		mutated := append([]byte(nil), b...)
		mutated[i] ^= 0x01
		_, err := c.Decrypt(mutated)
		require.ErrorIs(t, err, errs.ErrDecryptionFailed, "offset %d", i)
	}
}

func TestCipher_RejectsBadInput(t *testing.T) {
	t.Parallel()
	c, err := New(bytes.Repeat([]byte{3}, KeySize))
	require.NoError(t, err)

	_, err = c.Decrypt(nil)
	require.ErrorIs(t, err, errs.ErrInvalidBundle)

	_, err = c.Decrypt([]byte{0x00, 1, 2, 3})
	require.ErrorIs(t, err, errs.ErrInvalidBundle)

	_, err = c.Decrypt(append([]byte{0x02}, make([]byte, 40)...))
	require.ErrorIs(t, err, errs.ErrUnsupportedFormat)
}

func TestNew_RejectsBadKey(t *testing.T) {
	t.Parallel()
	_, err := New([]byte("short"))
	require.ErrorIs(t, err, errs.ErrInvalidKey)
	_, err = New(make([]byte, 64))
	require.ErrorIs(t, err, errs.ErrInvalidKey)
}

// Golden vectors generated once from the reference implementation and
// committed; they pin the byte layout across platforms.
func TestCipher_GoldenVectors(t *testing.T) {
	t.Parallel()
	key := mustHex(t, "6368616e676520746869732070617373776f726420746f206120736563726574")
	c, err := New(key)
	require.NoError(t, err)

	v1 := mustHex(t, "010003a1b2c3d4000000000000000138f0edb79008ce9c2425fc815a8131d1d3db351923a65ec1ac3d2ad577b7")
	pt, err := c.Decrypt(v1)
	require.NoError(t, err)
	require.Equal(t, []byte("attack at dawn"), pt)

	kv, err := KeyVersion(v1)
	require.NoError(t, err)
	require.Equal(t, uint16(3), kv)

	v0 := mustHex(t, "000011223300000000000000076961726f3e2eda9356900b9bc011df54a94d3bd15146627bd6be393953cfe862c137fc5201")
	pt, err = c.Decrypt(v0)
	require.NoError(t, err)
	require.Equal(t, []byte("legacy format payload"), pt)
}

func TestDeriveSharedKey_GoldenVector(t *testing.T) {
	t.Parallel()
	privA := mustHex(t, "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	pubA := mustHex(t, "07a37cbc142093c8b755dc1b10e86cb426374ad16aa853ed0bdfc0b2b86d1c7c")
	privB := mustHex(t, "202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f")
	pubB := mustHex(t, "358072d6365880d1aeea329adf9121383851ed21a28e3b75e965d0d2cd166254")
	want := mustHex(t, "a3071605037e2e8c3bb05f5b39a73c6b71760ca215ae9d996380c719c06a2a53")

	got, err := DeriveSharedKey(privA, pubB)
	require.NoError(t, err)
	require.Equal(t, want, got)

	// both sides derive the same key
	got2, err := DeriveSharedKey(privB, pubA)
	require.NoError(t, err)
	require.Equal(t, want, got2)
}

func TestDeriveSharedKey_Validation(t *testing.T) {
	t.Parallel()
	_, err := DeriveSharedKey([]byte("short"), make([]byte, 32))
	require.ErrorIs(t, err, errs.ErrInvalidKey)
	_, err = DeriveSharedKey(make([]byte, 32), []byte("short"))
	require.ErrorIs(t, err, errs.ErrInvalidKey)
}

func TestGenerateKeyPair_DerivesSymmetrically(t *testing.T) {
	t.Parallel()
	privA, pubA, err := GenerateKeyPair()
	require.NoError(t, err)
	privB, pubB, err := GenerateKeyPair()
	require.NoError(t, err)

	kAB, err := DeriveSharedKey(privA, pubB)
	require.NoError(t, err)
	kBA, err := DeriveSharedKey(privB, pubA)
	require.NoError(t, err)
	require.Equal(t, kAB, kBA)
	require.Len(t, kAB, KeySize)
}

func TestLegacyCipher_RoundTripAndTamper(t *testing.T) {
	t.Parallel()
	c, err := NewLegacy(bytes.Repeat([]byte{0x5a}, KeySize))
	require.NoError(t, err)

	pt := []byte("pre key-versioning payload")
	sealed, err := c.Encrypt(pt)
	require.NoError(t, err)

	got, err := c.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, pt, got)

	sealedEmpty, err := c.Encrypt([]byte{})
	require.NoError(t, err)
	got, err = c.Decrypt(sealedEmpty)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []byte{}, got)

	sealed[len(sealed)-1] ^= 0xff
	_, err = c.Decrypt(sealed)
	require.ErrorIs(t, err, errs.ErrDecryptionFailed)

	_, err = c.Decrypt([]byte("way too short"))
	require.ErrorIs(t, err, errs.ErrInvalidBundle)

	_, err = NewLegacy([]byte("short"))
	require.ErrorIs(t, err, errs.ErrInvalidKey)
}
