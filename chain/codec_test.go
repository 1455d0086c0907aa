package chain

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/subnetops/regd/signing"
)

func TestBurnedRegisterCall(t *testing.T) {
	t.Parallel()

	hotkey := bytes.Repeat([]byte{0xab}, 32)
	call, err := BurnedRegisterCall(19, hotkey)
	require.NoError(t, err)
	require.Equal(t, byte(subtensorPalletIndex), call.PalletIndex)
	require.Equal(t, byte(burnedRegisterCallIndex), call.CallIndex)
	require.Len(t, call.Args, 34)
	require.Equal(t, uint16(19), binary.LittleEndian.Uint16(call.Args[:2]))
	require.Equal(t, hotkey, call.Args[2:])

	_, err = BurnedRegisterCall(19, []byte("short"))
	require.Error(t, err)
}

func TestMortalEra(t *testing.T) {
	t.Parallel()

	t.Run("rounds period up to a power of two", func(t *testing.T) {
		t.Parallel()
		era := MortalEra(100, 1000)
		require.Equal(t, uint64(128), era.Period)
		require.Equal(t, uint64(1000%128), era.Phase)
	})
	t.Run("clamps small and huge periods", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, uint64(4), MortalEra(1, 0).Period)
		require.Equal(t, uint64(1<<16), MortalEra(1<<20, 0).Period)
	})
	t.Run("zero period is immortal", func(t *testing.T) {
		t.Parallel()
		era := MortalEra(0, 12345)
		require.Equal(t, []byte{0x00}, era.encode())
	})
	t.Run("mortal encoding is two bytes with the period exponent", func(t *testing.T) {
		t.Parallel()
		era := MortalEra(256, 1000)
		enc := era.encode()
		require.Len(t, enc, 2)
		v := binary.LittleEndian.Uint16(enc)
		// Low nibble carries trailing_zeros(period)-1, the rest the phase.
		require.Equal(t, uint16(7), v&0xf)
		require.Equal(t, uint16(1000%256), v>>4)
	})
}

func TestSignExtrinsic(t *testing.T) {
	t.Parallel()

	coldkey, err := signing.NewKeypair(bytes.Repeat([]byte{0x11}, ed25519.SeedSize))
	require.NoError(t, err)

	call, err := BurnedRegisterCall(1, bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, err)

	params := TxParams{
		Nonce:       5,
		Era:         MortalEra(256, 777),
		SpecVersion: 194,
		TxVersion:   1,
		GenesisHash: Hash{0x01},
		AnchorHash:  Hash{0x02},
	}
	ext, err := SignExtrinsic(coldkey, call, params)
	require.NoError(t, err)
	require.Equal(t, Hash(blake2b.Sum256(ext.Bytes)), ext.Hash)

	// Re-derive the expected body layout to pick the signed payload apart.
	var extra bytes.Buffer
	extraEnc := scale.NewEncoder(&extra)
	_, err = scale.EncodeByteArray(extraEnc, params.Era.encode())
	require.NoError(t, err)
	_, err = scale.EncodeCompact64(extraEnc, params.Nonce)
	require.NoError(t, err)
	_, err = scale.EncodeCompact64(extraEnc, params.Tip)
	require.NoError(t, err)

	callBytes := append([]byte{call.PalletIndex, call.CallIndex}, call.Args...)
	bodyLen := 1 + 1 + ed25519.PublicKeySize + 1 + ed25519.SignatureSize + extra.Len() + len(callBytes)
	body := ext.Bytes[len(ext.Bytes)-bodyLen:]

	require.Equal(t, byte(extrinsicVersionSigned), body[0])
	require.Equal(t, byte(multiAddressIDPrefix), body[1])
	require.Equal(t, []byte(coldkey.Public()), body[2:34])
	require.Equal(t, byte(multiSignatureEd25519), body[34])
	signature := body[35 : 35+ed25519.SignatureSize]
	require.Equal(t, extra.Bytes(), body[99:99+extra.Len()])
	require.Equal(t, callBytes, body[99+extra.Len():])

	var additional bytes.Buffer
	require.NoError(t, binary.Write(&additional, binary.LittleEndian, params.SpecVersion))
	require.NoError(t, binary.Write(&additional, binary.LittleEndian, params.TxVersion))
	additional.Write(params.GenesisHash[:])
	additional.Write(params.AnchorHash[:])

	payload := append(append(append([]byte{}, callBytes...), extra.Bytes()...), additional.Bytes()...)
	require.LessOrEqual(t, len(payload), maxSignedPayloadLen)
	require.True(t, ed25519.Verify(coldkey.Public(), payload, signature))
}
