package signing

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

var (
	ErrInvalidKeyLen = errors.New("key material has invalid length")
	ErrEmptyKey      = errors.New("key material is empty")
)

// Keypair wraps already-materialized ed25519 key material. regd never
// generates or persists keys; the caller supplies either a 32-byte seed
// or a full 64-byte private key.
type Keypair struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

func NewKeypair(material []byte) (*Keypair, error) {
	switch len(material) {
	case 0:
		return nil, ErrEmptyKey
	case ed25519.SeedSize:
		priv := ed25519.NewKeyFromSeed(material)
		return &Keypair{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
	case ed25519.PrivateKeySize:
		priv := ed25519.PrivateKey(material)
		return &Keypair{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
	default:
		return nil, fmt.Errorf("%w: got %d bytes, want %d or %d",
			ErrInvalidKeyLen, len(material), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

func (k *Keypair) Public() ed25519.PublicKey {
	return k.public
}

// Sign signs msg with the private key. The caller is responsible for
// pre-hashing oversized payloads per the chain's signing rules.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Identity pairs the two keys involved in a registration: the hotkey is
// the identity being registered, the coldkey authorizes and pays for it.
type Identity struct {
	Coldkey *Keypair
	Hotkey  *Keypair
}

// NewIdentity parses both keypairs from raw material. A failure here is a
// startup-time error and must abort the process.
func NewIdentity(coldkey, hotkey []byte) (*Identity, error) {
	ck, err := NewKeypair(coldkey)
	if err != nil {
		return nil, fmt.Errorf("parsing coldkey: %w", err)
	}
	hk, err := NewKeypair(hotkey)
	if err != nil {
		return nil, fmt.Errorf("parsing hotkey: %w", err)
	}
	return &Identity{Coldkey: ck, Hotkey: hk}, nil
}
