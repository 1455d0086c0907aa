package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/spacemeshos/go-scale"
	"golang.org/x/crypto/blake2b"

	"github.com/subnetops/regd/signing"
)

// Runtime call indices for the registration operation. These track the
// finney runtime layout and would need regeneration on a runtime upgrade
// that reorders pallets.
const (
	subtensorPalletIndex    = 0x07
	burnedRegisterCallIndex = 0x07
)

// Extrinsic wire constants (transaction format v4).
const (
	extrinsicVersionSigned = 0x84
	multiAddressIDPrefix   = 0x00 // MultiAddress::Id
	multiSignatureEd25519  = 0x00
)

// Payloads longer than this are hashed before signing per the chain's
// signing rules.
const maxSignedPayloadLen = 256

// Call is a SCALE-encoded runtime call: pallet index, call index and the
// already-encoded argument bytes.
type Call struct {
	PalletIndex byte
	CallIndex   byte
	Args        []byte
}

func (c Call) encode() []byte {
	out := make([]byte, 0, 2+len(c.Args))
	out = append(out, c.PalletIndex, c.CallIndex)
	return append(out, c.Args...)
}

// BurnedRegisterCall builds the registration call for the given subnet and
// hotkey account. The hotkey is a fixed 32-byte account id and is encoded
// without a length prefix.
func BurnedRegisterCall(netuid uint16, hotkey []byte) (Call, error) {
	if len(hotkey) != HashSize {
		return Call{}, fmt.Errorf("hotkey must be %d bytes, got %d", HashSize, len(hotkey))
	}
	args := make([]byte, 0, 2+HashSize)
	args = binary.LittleEndian.AppendUint16(args, netuid)
	args = append(args, hotkey...)
	return Call{
		PalletIndex: subtensorPalletIndex,
		CallIndex:   burnedRegisterCallIndex,
		Args:        args,
	}, nil
}

// Era is a bounded transaction validity window anchored to a recent block.
// A zero Period means the transaction is immortal.
type Era struct {
	Period uint64
	Phase  uint64
}

// MortalEra computes the era for a transaction anchored at block current
// and valid for roughly period blocks. The period is rounded up to a power
// of two and clamped to the range the wire format can carry.
func MortalEra(period, current uint64) Era {
	if period == 0 {
		return Era{}
	}
	p := nextPowerOfTwo(period)
	if p < 4 {
		p = 4
	}
	if p > 1<<16 {
		p = 1 << 16
	}
	return Era{Period: p, Phase: current % p}
}

func nextPowerOfTwo(v uint64) uint64 {
	if v&(v-1) == 0 {
		return v
	}
	return 1 << bits.Len64(v)
}

func (e Era) encode() []byte {
	if e.Period == 0 {
		return []byte{0x00}
	}
	quantizeFactor := e.Period >> 12
	if quantizeFactor < 1 {
		quantizeFactor = 1
	}
	trailing := uint64(bits.TrailingZeros64(e.Period))
	low := trailing - 1
	if low < 1 {
		low = 1
	}
	if low > 15 {
		low = 15
	}
	encoded := uint16(low) | uint16(e.Phase/quantizeFactor)<<4
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, encoded)
	return out
}

// TxParams collects everything beyond the call itself that a signature
// commits to.
type TxParams struct {
	Nonce       uint64
	Tip         uint64
	Era         Era
	SpecVersion uint32
	TxVersion   uint32
	GenesisHash Hash
	AnchorHash  Hash // block the mortal era is anchored to
}

// SignedExtrinsic is a fully signed, length-prefixed extrinsic ready for
// submission, along with its digest.
type SignedExtrinsic struct {
	Bytes []byte
	Hash  Hash
}

// SignExtrinsic encodes and signs call with the given signer (the coldkey)
// under params, producing the v4 signed extrinsic wire form.
func SignExtrinsic(signer *signing.Keypair, call Call, params TxParams) (SignedExtrinsic, error) {
	callBytes := call.encode()

	// extra: fields included in both the signature payload and the body.
	var extra bytes.Buffer
	extraEnc := scale.NewEncoder(&extra)
	if _, err := scale.EncodeByteArray(extraEnc, params.Era.encode()); err != nil {
		return SignedExtrinsic{}, fmt.Errorf("encoding era: %w", err)
	}
	if _, err := scale.EncodeCompact64(extraEnc, params.Nonce); err != nil {
		return SignedExtrinsic{}, fmt.Errorf("encoding nonce: %w", err)
	}
	if _, err := scale.EncodeCompact64(extraEnc, params.Tip); err != nil {
		return SignedExtrinsic{}, fmt.Errorf("encoding tip: %w", err)
	}

	// additional: committed to by the signature but not serialized.
	var additional bytes.Buffer
	if err := binary.Write(&additional, binary.LittleEndian, params.SpecVersion); err != nil {
		return SignedExtrinsic{}, err
	}
	if err := binary.Write(&additional, binary.LittleEndian, params.TxVersion); err != nil {
		return SignedExtrinsic{}, err
	}
	additional.Write(params.GenesisHash[:])
	additional.Write(params.AnchorHash[:])

	payload := make([]byte, 0, len(callBytes)+extra.Len()+additional.Len())
	payload = append(payload, callBytes...)
	payload = append(payload, extra.Bytes()...)
	payload = append(payload, additional.Bytes()...)
	if len(payload) > maxSignedPayloadLen {
		digest := blake2b.Sum256(payload)
		payload = digest[:]
	}
	signature := signer.Sign(payload)

	var body bytes.Buffer
	body.WriteByte(extrinsicVersionSigned)
	body.WriteByte(multiAddressIDPrefix)
	body.Write(signer.Public())
	body.WriteByte(multiSignatureEd25519)
	body.Write(signature)
	body.Write(extra.Bytes())
	body.Write(callBytes)

	var full bytes.Buffer
	if _, err := scale.EncodeByteSlice(scale.NewEncoder(&full), body.Bytes()); err != nil {
		return SignedExtrinsic{}, fmt.Errorf("encoding extrinsic body: %w", err)
	}

	return SignedExtrinsic{
		Bytes: full.Bytes(),
		Hash:  blake2b.Sum256(full.Bytes()),
	}, nil
}
