package crypto

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/curve25519"
)

// ErrLocked is returned by Session operations before Unlock or after Lock
var ErrLocked = errors.New("session locked")

// Sealed is the wire form of a box-encrypted text message
type Sealed struct {
	Text  string `json:"text"`
	Nonce string `json:"nonce"`
}

// Session holds the unwrapped private key for one logged-in user. The key
// never leaves the Session; Lock zeroes it.
type Session struct {
	mu     sync.RWMutex
	priv   *[KeySize]byte
	public *[KeySize]byte
}

// Unlock unwraps the private key with password and checks that it matches
// publicKey. Any previous key is wiped first.
func (s *Session) Unlock(w WrappedKey, password string, publicKey *[KeySize]byte) error {
	priv, err := UnwrapPrivateKey(w, password)
	if err != nil {
		return err
	}

	if publicKey != nil {
		if !matchesPublic(priv, publicKey) {
			Wipe(priv[:])
			return fmt.Errorf("%w: private key does not match public key", ErrWrongPassword)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priv != nil {
		Wipe(s.priv[:])
	}
	s.priv = priv
	s.public = publicKey
	return nil
}

// box public keys are the X25519 base-point multiple of the private key
func matchesPublic(priv, pub *[KeySize]byte) bool {
	derived, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, pub[:]) == 1
}

// Lock wipes the private key. Safe to call repeatedly.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priv != nil {
		Wipe(s.priv[:])
		s.priv = nil
	}
	s.public = nil
}

// Unlocked reports whether a private key is held
func (s *Session) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priv != nil
}

// PublicKey returns the public key the session was unlocked with, if any
func (s *Session) PublicKey() *[KeySize]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.public
}

// Seal encrypts text for peerPub and returns base64 ciphertext and nonce
func (s *Session) Seal(plaintext string, peerPub *[KeySize]byte) (*Sealed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.priv == nil {
		return nil, ErrLocked
	}

	ct, nonce, err := Encrypt([]byte(plaintext), peerPub, s.priv)
	if err != nil {
		return nil, err
	}
	return &Sealed{
		Text:  base64.StdEncoding.EncodeToString(ct),
		Nonce: base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Open decrypts a base64 ciphertext and nonce sent by senderPub
func (s *Session) Open(ciphertext, nonce string, senderPub *[KeySize]byte) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrUndecryptable
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", ErrUndecryptable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.priv == nil {
		return "", ErrLocked
	}

	pt, err := Decrypt(ct, n, senderPub, s.priv)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
