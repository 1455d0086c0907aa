package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// HashSize is the size of a block or extrinsic digest.
const HashSize = 32

// Hash is a 32-byte chain digest. It marshals to and from the 0x-prefixed
// hex form used by the node's JSON-RPC API.
type Hash [HashSize]byte

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return h.FromHex(s)
}

func (h *Hash) FromHex(s string) error {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("decoding hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return fmt.Errorf("decoding hash %q: got %d bytes, want %d", s, len(b), HashSize)
	}
	copy(h[:], b)
	return nil
}

// BlockDescriptor identifies a single block: its sequence number and its
// digest. Descriptors are immutable and discarded after one scheduling step.
type BlockDescriptor struct {
	Number uint64
	Hash   Hash
}

// RuntimeVersion carries the runtime identifiers an extrinsic signature
// commits to. Fetched once during the connection handshake.
type RuntimeVersion struct {
	SpecVersion uint32 `json:"specVersion"`
	TxVersion   uint32 `json:"transactionVersion"`
}

// FinalizationResult is the terminal outcome of a successfully finalized
// extrinsic.
type FinalizationResult struct {
	BlockHash     Hash
	ExtrinsicHash Hash
}

// header mirrors the subset of the JSON-RPC block header we consume.
// The number field is a 0x-prefixed hex string on the wire.
type header struct {
	Number hexUint64 `json:"number"`
}

type hexUint64 uint64

func (n *hexUint64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("decoding block number %q: %w", s, err)
	}
	*n = hexUint64(v)
	return nil
}
