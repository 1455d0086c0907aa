package chain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/crypto/blake2b"
)

// ErrStorageNotFound is returned when a storage item has no value at the
// queried key.
var ErrStorageNotFound = errors.New("storage value not found")

// twox128 is the default hasher for pallet and item prefixes: two seeded
// xxh64 runs concatenated little-endian.
func twox128(data []byte) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[:8], xxhash.Checksum64S(data, 0))
	binary.LittleEndian.PutUint64(out[8:], xxhash.Checksum64S(data, 1))
	return out
}

// twox64Concat hashes a map key while keeping it recoverable from the
// storage key.
func twox64Concat(data []byte) []byte {
	out := make([]byte, 8, 8+len(data))
	binary.LittleEndian.PutUint64(out, xxhash.Checksum64S(data, 0))
	return append(out, data...)
}

// blake2b128Concat is the hasher used by the System.Account map.
func blake2b128Concat(data []byte) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		panic(err) // only fails on invalid size/key
	}
	h.Write(data)
	return append(h.Sum(nil), data...)
}

// storageKey builds a storage key from the pallet and item prefixes plus
// already-hashed map keys.
func storageKey(pallet, item string, hashedKeys ...[]byte) []byte {
	key := append(twox128([]byte(pallet)), twox128([]byte(item))...)
	for _, k := range hashedKeys {
		key = append(key, k...)
	}
	return key
}

// QueryStorage fetches the raw SCALE-encoded value under the given
// pallet/item with the supplied (already hashed) map key, or
// ErrStorageNotFound when the entry is empty.
func (c *Client) QueryStorage(ctx context.Context, pallet, item string, hashedKey []byte) ([]byte, error) {
	key := storageKey(pallet, item, hashedKey)

	var result *string
	if err := c.call(ctx, &result, "state_getStorage", "0x"+hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("querying %s/%s: %w", pallet, item, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%s/%s: %w", pallet, item, ErrStorageNotFound)
	}
	value, err := hex.DecodeString(strings.TrimPrefix(*result, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding %s/%s value: %w", pallet, item, err)
	}
	return value, nil
}

// AccountNonce reads the on-chain nonce of the given account from the
// System.Account map.
func (c *Client) AccountNonce(ctx context.Context, account []byte) (uint64, error) {
	value, err := c.QueryStorage(ctx, "System", "Account", blake2b128Concat(account))
	if errors.Is(err, ErrStorageNotFound) {
		return 0, nil // account never used
	}
	if err != nil {
		return 0, err
	}
	if len(value) < 4 {
		return 0, fmt.Errorf("account info too short: %d bytes", len(value))
	}
	// AccountInfo starts with the u32 nonce.
	return uint64(binary.LittleEndian.Uint32(value[:4])), nil
}

type burnCacheKey struct {
	head   Hash
	netuid uint16
}

// BurnCost reads the current registration burn for the subnet, cached per
// chain head. The cost ceiling built on top of this value is intentionally
// dormant: the scheduler reports it but never gates on it.
func (c *Client) BurnCost(ctx context.Context, netuid uint16) (uint64, error) {
	head, err := c.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	cacheKey := burnCacheKey{head: head.Hash, netuid: netuid}
	if cached, ok := c.burnCache.Get(cacheKey); ok {
		return cached.(uint64), nil
	}

	entryKey := binary.LittleEndian.AppendUint16(nil, netuid)
	value, err := c.QueryStorage(ctx, "SubtensorModule", "Burn", twox64Concat(entryKey))
	if err != nil {
		return 0, err
	}
	if len(value) < 8 {
		return 0, fmt.Errorf("burn value too short: %d bytes", len(value))
	}
	cost := binary.LittleEndian.Uint64(value[:8])
	c.burnCache.Add(cacheKey, cost)
	return cost, nil
}
