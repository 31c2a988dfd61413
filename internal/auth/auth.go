package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/keys"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidSignup      = errors.New("invalid signup")
)

// postgres unique_violation
const uniqueViolation = "23505"

type Service struct {
	db     *sql.DB
	tokens *TokenSigner
}

func NewService(db *sql.DB, tokens *TokenSigner) *Service {
	return &Service{db: db, tokens: tokens}
}

// SignupRequest is an account creation request. Keys carries the public key
// and the client-wrapped private key; the server never sees the password-
// derived key or the private key itself.
type SignupRequest struct {
	FullName string           `json:"fullName"`
	Email    string           `json:"email"`
	Password string           `json:"password"`
	Bio      string           `json:"bio"`
	Keys     models.KeyBundle `json:"keys"`
}

// Validate checks the request shape before any database work
func (r *SignupRequest) Validate() error {
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)

	if r.FullName == "" {
		return fmt.Errorf("%w: full name required", ErrInvalidSignup)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrInvalidSignup)
	}
	if len(r.Password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidSignup)
	}
	if err := keys.ValidateBundle(r.Keys); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignup, err)
	}
	return nil
}

const userColumns = `id, full_name, email, bio, profile_pic, public_key, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }, extra ...any) (*models.User, error) {
	var u models.User
	dest := append([]any{&u.ID, &u.FullName, &u.Email, &u.Bio, &u.ProfilePic, &u.PublicKey,
		&u.CreatedAt, &u.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser creates a new user with a bcrypt password hash and key bundle
func (s *Service) CreateUser(ctx context.Context, req SignupRequest) (*models.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO users (id, email, full_name, password_hash, bio, public_key,
		                   encrypted_private_key, key_salt, key_iv, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query,
		uuid.New(), req.Email, req.FullName, string(passwordHash), req.Bio, req.Keys.PublicKey,
		req.Keys.EncryptedPrivateKey, req.Keys.Salt, req.Keys.IV, now, now,
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// AuthenticateByEmail verifies email/password and returns the user with the
// stored key bundle the client needs to unlock its private key.
func (s *Service) AuthenticateByEmail(ctx context.Context, email, password string) (*models.User, *models.KeyBundle, error) {
	var passwordHash string
	var bundle models.KeyBundle

	query := `
		SELECT ` + userColumns + `, password_hash, encrypted_private_key, key_salt, key_iv
		FROM users
		WHERE email = $1
	`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, strings.TrimSpace(strings.ToLower(email))),
		&passwordHash, &bundle.EncryptedPrivateKey, &bundle.Salt, &bundle.IV)
	if err == sql.ErrNoRows {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	bundle.PublicKey = user.PublicKey
	return user, &bundle, nil
}

// GetUserByID retrieves a user by ID
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// SearchUsers finds users by name or email prefix, excluding the requester
func (s *Service) SearchUsers(ctx context.Context, query string, excludeUserID uuid.UUID, limit int) ([]*models.User, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	pattern := strings.ToLower(strings.TrimSpace(query)) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id <> $1 AND (LOWER(full_name) LIKE $2 OR email LIKE $2)
		ORDER BY full_name
		LIMIT $3
	`, excludeUserID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GenerateSessionToken issues a signed bearer token
func (s *Service) GenerateSessionToken(userID uuid.UUID) (string, error) {
	if s.tokens == nil {
		return "", errors.New("token signer not configured")
	}
	return s.tokens.Issue(userID), nil
}

// ValidateSessionToken validates a session token and returns the user ID
func (s *Service) ValidateSessionToken(token string) (uuid.UUID, error) {
	if s.tokens == nil {
		return uuid.Nil, ErrInvalidToken
	}
	return s.tokens.Verify(token)
}
