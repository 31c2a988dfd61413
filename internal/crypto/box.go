package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the size of box public and private keys
	KeySize = 32

	// BoxNonceSize is the nonce size for box
	BoxNonceSize = 24
)

var (
	// ErrUndecryptable is returned for any box authentication failure
	ErrUndecryptable = errors.New("message undecryptable")

	ErrInvalidKey = errors.New("invalid key")
)

// KeyPair is a Curve25519 box key pair
type KeyPair struct {
	Public  *[KeySize]byte
	Private *[KeySize]byte
}

// GenerateKeyPair creates a fresh box key pair
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Wipe zeroes the private half
func (kp *KeyPair) Wipe() {
	if kp.Private != nil {
		Wipe(kp.Private[:])
	}
}

// Encrypt seals plaintext from sender to recipient under a fresh random nonce
func Encrypt(plaintext []byte, recipientPub, senderPriv *[KeySize]byte) (ciphertext, nonce []byte, err error) {
	if recipientPub == nil || senderPriv == nil {
		return nil, nil, ErrInvalidKey
	}

	var n [BoxNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to generate random nonce: %w", err)
	}

	ciphertext = box.Seal(nil, plaintext, &n, recipientPub, senderPriv)
	return ciphertext, n[:], nil
}

// Decrypt opens a box. Every failure, including malformed input, is
// ErrUndecryptable and yields no plaintext.
func Decrypt(ciphertext, nonce []byte, senderPub, recipientPriv *[KeySize]byte) ([]byte, error) {
	if senderPub == nil || recipientPriv == nil || len(nonce) != BoxNonceSize {
		return nil, ErrUndecryptable
	}

	var n [BoxNonceSize]byte
	copy(n[:], nonce)

	plaintext, ok := box.Open(nil, ciphertext, &n, senderPub, recipientPriv)
	if !ok {
		return nil, ErrUndecryptable
	}
	return plaintext, nil
}

// EncodeKey returns the standard padded base64 form used on the wire
func EncodeKey(key *[KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// DecodeKey parses a base64 key
func DecodeKey(s string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}

	var key [KeySize]byte
	copy(key[:], raw)
	Wipe(raw)
	return &key, nil
}

// KeyFingerprint is a short, log-safe identifier for a public key
func KeyFingerprint(pub *[KeySize]byte) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:8])
}
