package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the work factor for deriving the wrapping key
	PBKDF2Iterations = 100000

	// SaltSize is the size of the random PBKDF2 salt
	SaltSize = 16
)

var (
	// ErrWrongPassword is returned when the wrapped key fails authentication,
	// either because the password is wrong or the blob was tampered with.
	ErrWrongPassword = errors.New("wrong password or corrupted private key")

	ErrMalformedWrappedKey = errors.New("malformed wrapped private key")
)

// WrappedKey is the server-stored form of a private key. All fields are
// standard base64. The sealed plaintext is the base64 text of the key.
type WrappedKey struct {
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	Salt                string `json:"salt"`
	IV                  string `json:"iv"`
}

// DeriveWrappingKey stretches password with PBKDF2-HMAC-SHA256
func DeriveWrappingKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, SymmetricKeySize, sha256.New)
}

// WrapPrivateKey encrypts priv under a key derived from password with a
// fresh salt and IV.
func WrapPrivateKey(priv *[KeySize]byte, password string) (*WrappedKey, error) {
	if priv == nil {
		return nil, ErrInvalidKey
	}

	salt, err := GenerateNonce(SaltSize)
	if err != nil {
		return nil, err
	}
	iv, err := GenerateNonce(AESGCMNonceSize)
	if err != nil {
		return nil, err
	}

	key := DeriveWrappingKey(password, salt)
	defer Wipe(key)

	plaintext := []byte(EncodeKey(priv))
	defer Wipe(plaintext)

	ciphertext, err := AESGCMEncrypt(key, iv, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap private key: %w", err)
	}

	return &WrappedKey{
		EncryptedPrivateKey: base64.StdEncoding.EncodeToString(ciphertext),
		Salt:                base64.StdEncoding.EncodeToString(salt),
		IV:                  base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// UnwrapPrivateKey recovers the private key. It fails closed: on any
// authentication failure nothing is returned but ErrWrongPassword.
func UnwrapPrivateKey(w WrappedKey, password string) (*[KeySize]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(w.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedWrappedKey, err)
	}
	salt, err := base64.StdEncoding.DecodeString(w.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrMalformedWrappedKey, err)
	}
	iv, err := base64.StdEncoding.DecodeString(w.IV)
	if err != nil || len(iv) != AESGCMNonceSize {
		return nil, fmt.Errorf("%w: iv", ErrMalformedWrappedKey)
	}

	key := DeriveWrappingKey(password, salt)
	defer Wipe(key)

	plaintext, err := AESGCMDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, ErrWrongPassword
	}
	defer Wipe(plaintext)

	priv, err := DecodeKey(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWrappedKey, err)
	}
	return priv, nil
}
