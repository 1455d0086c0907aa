package signing_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subnetops/regd/signing"
)

func TestNewKeypairFromSeed(t *testing.T) {
	t.Parallel()

	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 0x42

	kp, err := signing.NewKeypair(seed)
	require.NoError(t, err)

	want := ed25519.NewKeyFromSeed(seed)
	require.Equal(t, want.Public(), kp.Public())

	msg := []byte("qualifying block")
	require.True(t, ed25519.Verify(kp.Public(), msg, kp.Sign(msg)))
}

func TestNewKeypairFromPrivateKey(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	kp, err := signing.NewKeypair(priv)
	require.NoError(t, err)
	require.Equal(t, pub, kp.Public())
}

func TestNewKeypairRejectsBadMaterial(t *testing.T) {
	t.Parallel()

	_, err := signing.NewKeypair(nil)
	require.ErrorIs(t, err, signing.ErrEmptyKey)

	_, err = signing.NewKeypair(make([]byte, 33))
	require.ErrorIs(t, err, signing.ErrInvalidKeyLen)
}

func TestNewIdentity(t *testing.T) {
	t.Parallel()

	coldkey := make([]byte, ed25519.SeedSize)
	hotkey := make([]byte, ed25519.SeedSize)
	hotkey[31] = 0x01

	id, err := signing.NewIdentity(coldkey, hotkey)
	require.NoError(t, err)
	require.NotEqual(t, id.Coldkey.Public(), id.Hotkey.Public())

	_, err = signing.NewIdentity(coldkey, hotkey[:7])
	require.ErrorIs(t, err, signing.ErrInvalidKeyLen)
	require.ErrorContains(t, err, "parsing hotkey")

	_, err = signing.NewIdentity(nil, hotkey)
	require.ErrorIs(t, err, signing.ErrEmptyKey)
	require.ErrorContains(t, err, "parsing coldkey")
}
