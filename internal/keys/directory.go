// Package keys is the server's public-key directory.
//
// Public keys live on the users table next to the wrapped private key; this
// package reads them and caches public keys in redis so peers can fetch them
// on every conversation open.
package keys

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/crypto"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

var ErrKeyNotFound = errors.New("public key not found")

const defaultCacheTTL = time.Hour

type Directory struct {
	db    *sql.DB
	redis *redis.Client
	ttl   time.Duration
}

func NewDirectory(db *sql.DB, redis *redis.Client) *Directory {
	return &Directory{
		db:    db,
		redis: redis,
		ttl:   defaultCacheTTL,
	}
}

func cacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("pubkey:%s", userID.String())
}

// PublicKey returns a user's base64 box public key
func (d *Directory) PublicKey(ctx context.Context, userID uuid.UUID) (string, error) {
	if d.redis != nil {
		cached, err := d.redis.Get(ctx, cacheKey(userID)).Result()
		if err == nil {
			return cached, nil
		}
		if err != redis.Nil {
			log.Printf("[Keys] Cache read failed for %s: %v", userID, err)
		}
	}

	var pub string
	err := d.db.QueryRowContext(ctx,
		"SELECT public_key FROM users WHERE id = $1", userID,
	).Scan(&pub)
	if err == sql.ErrNoRows {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	if d.redis != nil {
		if err := d.redis.Set(ctx, cacheKey(userID), pub, d.ttl).Err(); err != nil {
			log.Printf("[Keys] Cache write failed for %s: %v", userID, err)
		}
	}

	return pub, nil
}

// Bundle returns the full key bundle for the account owner, so a client
// holding only a session token can unlock its private key again.
func (d *Directory) Bundle(ctx context.Context, userID uuid.UUID) (*models.KeyBundle, error) {
	var b models.KeyBundle
	err := d.db.QueryRowContext(ctx, `
		SELECT public_key, encrypted_private_key, key_salt, key_iv
		FROM users WHERE id = $1
	`, userID).Scan(&b.PublicKey, &b.EncryptedPrivateKey, &b.Salt, &b.IV)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key bundle: %w", err)
	}
	return &b, nil
}

// ValidateBundle checks a bundle submitted at signup. The public key must be
// a 32-byte base64 key; the wrapped fields must be present and base64.
func ValidateBundle(b models.KeyBundle) error {
	if !b.Complete() {
		return errors.New("key bundle is incomplete")
	}
	if _, err := crypto.DecodeKey(b.PublicKey); err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	if err := checkWrapped(b); err != nil {
		return err
	}
	return nil
}

func checkWrapped(b models.KeyBundle) error {
	salt, err := base64.StdEncoding.DecodeString(b.Salt)
	if err != nil || len(salt) != crypto.SaltSize {
		return errors.New("invalid key salt")
	}
	iv, err := base64.StdEncoding.DecodeString(b.IV)
	if err != nil || len(iv) != crypto.AESGCMNonceSize {
		return errors.New("invalid key iv")
	}
	if _, err := base64.StdEncoding.DecodeString(b.EncryptedPrivateKey); err != nil {
		return errors.New("invalid encrypted private key")
	}
	return nil
}
