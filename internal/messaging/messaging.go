package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotReceiver      = errors.New("only the receiver can mark a message seen")
	ErrPresenceNotFound = errors.New("presence not found")
	ErrRedisUnavailable = errors.New("redis not available")
	ErrUnknownUser      = errors.New("user not found")
)

const foreignKeyViolation = "23503"

// Call log status persisted by the relay
const CallStatusCompleted = "completed"

type Service struct {
	db    *sql.DB
	redis *redis.Client
	now   func() time.Time
}

func NewService(db *sql.DB, redis *redis.Client) *Service {
	return &Service{
		db:    db,
		redis: redis,
		now:   time.Now,
	}
}

const messageColumns = `id, sender_id, receiver_id, text, nonce, image, seen,
	message_type, call_type, duration, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Text, &msg.Nonce, &msg.Image,
		&msg.Seen, &msg.MessageType, &msg.CallType, &msg.Duration, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage validates and persists a message
func (s *Service) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
		if msg.Text == "" && msg.Image != "" {
			msg.MessageType = models.MessageTypeImage
		}
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	msg.ID = uuid.New()
	msg.Seen = false
	msg.CreatedAt = now
	msg.UpdatedAt = now

	query := `
		INSERT INTO messages (id, sender_id, receiver_id, text, nonce, image, seen,
		                      message_type, call_type, duration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + messageColumns

	created, err := scanMessage(s.db.QueryRowContext(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Nonce, msg.Image, msg.Seen,
		msg.MessageType, msg.CallType, msg.Duration, msg.CreatedAt, msg.UpdatedAt,
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return created, nil
}

// GetConversation returns every message between userID and peerID, oldest
// first, after marking the peer's messages to userID as seen.
func (s *Service) GetConversation(ctx context.Context, userID, peerID uuid.UUID) ([]*models.Message, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seen = TRUE, updated_at = $3
		WHERE sender_id = $1 AND receiver_id = $2 AND seen = FALSE
	`, peerID, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark conversation seen: %w", err)
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkSeen marks one message seen on behalf of its receiver
func (s *Service) MarkSeen(ctx context.Context, messageID, receiverID uuid.UUID) error {
	var owner uuid.UUID
	err := s.db.QueryRowContext(ctx,
		"SELECT receiver_id FROM messages WHERE id = $1", messageID,
	).Scan(&owner)
	if err == sql.ErrNoRows {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query message: %w", err)
	}
	if owner != receiverID {
		return ErrNotReceiver
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE messages SET seen = TRUE, updated_at = $2 WHERE id = $1",
		messageID, s.now())
	if err != nil {
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	return nil
}

// UnseenCounts returns, per sender, the number of unseen messages to userID.
// Senders with nothing unseen are absent.
func (s *Service) UnseenCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = $1 AND seen = FALSE
		GROUP BY sender_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unseen counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var sender uuid.UUID
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unseen count: %w", err)
		}
		counts[sender] = n
	}
	return counts, rows.Err()
}

// Contacts lists everyone userID has exchanged messages with, most recent first
func (s *Service) Contacts(ctx context.Context, userID uuid.UUID) ([]*models.User, error) {
	query := `
		SELECT u.id, u.full_name, u.email, u.bio, u.profile_pic, u.public_key, u.created_at, u.updated_at
		FROM users u
		INNER JOIN (
			SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer_id,
			       MAX(created_at) AS last_at
			FROM messages
			WHERE sender_id = $1 OR receiver_id = $1
			GROUP BY peer_id
		) m ON m.peer_id = u.id
		ORDER BY m.last_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.Bio, &u.ProfilePic, &u.PublicKey,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// SaveCallLog persists a finished call as a plaintext call message
func (s *Service) SaveCallLog(ctx context.Context, callerID uuid.UUID, log models.CallLogPayload) (*models.Message, error) {
	receiverID, err := uuid.Parse(log.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("invalid receiver id: %w", err)
	}

	msg, err := CallLogMessage(callerID, receiverID, log)
	if err != nil {
		return nil, err
	}
	return s.CreateMessage(ctx, msg)
}

// CallLogMessage builds the stored form of a call log, e.g.
// "📹 Video call completed - 0:05".
func CallLogMessage(callerID, receiverID uuid.UUID, log models.CallLogPayload) (*models.Message, error) {
	if log.CallType != models.CallTypeAudio && log.CallType != models.CallTypeVideo {
		return nil, models.ErrInvalidCallType
	}
	if log.Duration == "" {
		return nil, models.ErrMissingCallSummary
	}
	status := log.Status
	if status == "" {
		status = CallStatusCompleted
	}

	label := "📞 Audio"
	if log.CallType == models.CallTypeVideo {
		label = "📹 Video"
	}

	return &models.Message{
		SenderID:    callerID,
		ReceiverID:  receiverID,
		Text:        fmt.Sprintf("%s call %s - %s", label, status, log.Duration),
		MessageType: models.MessageTypeCall,
		CallType:    log.CallType,
		Duration:    log.Duration,
	}, nil
}

// Presence Management (using Redis)

// SetPresence mirrors a user's relay presence into redis
func (s *Service) SetPresence(ctx context.Context, userID uuid.UUID, status string) error {
	if s.redis == nil {
		return nil
	}

	key := fmt.Sprintf("presence:%s", userID.String())
	data := map[string]interface{}{
		"status":       status,
		"last_seen_at": s.now().Unix(),
	}

	return s.redis.HSet(ctx, key, data).Err()
}

// GetPresence reads the mirrored presence of a user
func (s *Service) GetPresence(ctx context.Context, userID uuid.UUID) (*models.Presence, error) {
	if s.redis == nil {
		return nil, ErrRedisUnavailable
	}

	key := fmt.Sprintf("presence:%s", userID.String())
	result, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrPresenceNotFound
	}

	presence := &models.Presence{
		UserID: userID,
		Status: result["status"],
	}
	var unix int64
	if _, err := fmt.Sscan(result["last_seen_at"], &unix); err == nil {
		presence.LastSeenAt = time.Unix(unix, 0)
	}

	return presence, nil
}
