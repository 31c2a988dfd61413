/*
Package crypto provides the end-to-end encryption primitives used by chat
clients.

ALGORITHMS:
  - NaCl box (Curve25519, XSalsa20-Poly1305) for messages between two users
  - AES-256-GCM under a PBKDF2-HMAC-SHA256 key for the password-wrapped
    private key stored on the server

NONCE HANDLING:
  - box: 24-byte nonce, fresh from crypto/rand on every Encrypt
  - AES-GCM: 12-byte IV, fresh from crypto/rand on every wrap

The server only ever stores public keys and wrapped private keys. Unwrapped
private keys live in a Session and are zeroed on Lock.
*/
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// SymmetricKeySize is the size of symmetric keys (256 bits)
const SymmetricKeySize = 32

// AESGCMNonceSize is the nonce size for AES-GCM
const AESGCMNonceSize = 12

// GenerateNonce generates a random nonce of the specified size
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate random nonce: %w", err)
	}
	return nonce, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("invalid key size: expected %d, got %d", SymmetricKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// AESGCMEncrypt encrypts plaintext with a provided nonce (no additional data)
func AESGCMEncrypt(key, nonce, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: expected %d, got %d", gcm.NonceSize(), len(nonce))
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// AESGCMDecrypt decrypts ciphertext with a provided nonce (no additional data)
func AESGCMDecrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: expected %d, got %d", gcm.NonceSize(), len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}
