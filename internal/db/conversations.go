package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"alumnet/internal/apperror"
	"alumnet/internal/models"
)

// FindConversationBetween returns the conversation holding exactly this
// pair, in either order.
func (db *DB) FindConversationBetween(ctx context.Context, userA, userB int64) (int64, bool, error) {
	low, high := canonicalPair(userA, userB)

	var id int64
	err := db.GetContext(ctx, &id, db.Rebind(`
		SELECT id FROM conversations WHERE user_low = ? AND user_high = ?
	`), low, high)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, apperror.Persistence("failed to find conversation", err)
	}
	return id, true, nil
}

// CreateConversation creates the conversation and both participant rows in
// one transaction. If the pair already has a conversation it returns
// ErrConversationExists and leaves the store untouched.
func (db *DB) CreateConversation(ctx context.Context, userA, userB int64) (int64, error) {
	if userA == userB {
		return 0, apperror.Validation("a conversation needs two distinct users")
	}
	low, high := canonicalPair(userA, userB)

	var conversationID int64
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO conversations (user_low, user_high, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT (user_low, user_high) DO NOTHING
			RETURNING id
		`), low, high, now()).Scan(&conversationID)
		if err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
				return ErrConversationExists
			case isForeignKeyViolation(err):
				return apperror.NotFound("user not found")
			}
			return apperror.Persistence("failed to create conversation", err)
		}

		for _, userID := range []int64{low, high} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO conversation_participants (conversation_id, user_id)
				VALUES (?, ?)
			`), conversationID, userID); err != nil {
				return apperror.Persistence("failed to add participant", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return conversationID, nil
}

func (db *DB) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.GetContext(ctx, &conv, db.Rebind(`
		SELECT id, user_low, user_high, created_at FROM conversations WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("conversation not found")
		}
		return nil, apperror.Persistence("failed to load conversation", err)
	}
	return &conv, nil
}

func (db *DB) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n, db.Rebind(`
		SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = ? AND user_id = ?
	`), conversationID, userID)
	if err != nil {
		return false, apperror.Persistence("failed to check participant", err)
	}
	return n > 0, nil
}

// ListConversationsFor returns one summary per conversation the user is in,
// most recently active first, each carrying the other participant and the
// latest message content.
func (db *DB) ListConversationsFor(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	summaries := []models.ConversationSummary{}
	err := db.SelectContext(ctx, &summaries, db.Rebind(`
		SELECT
			c.id AS conversation_id,
			u.id AS user_id,
			u.full_name,
			u.email AS other_user_email,
			u.profile_pic_url,
			(SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.id DESC
				LIMIT 1) AS last_message
		FROM conversation_participants me
		JOIN conversations c ON c.id = me.conversation_id
		JOIN conversation_participants other
			ON other.conversation_id = c.id AND other.user_id <> me.user_id
		JOIN users u ON u.id = other.user_id
		WHERE me.user_id = ?
		ORDER BY COALESCE(
			(SELECT MAX(m2.created_at) FROM messages m2 WHERE m2.conversation_id = c.id),
			c.created_at) DESC, c.id DESC
	`), userID)
	if err != nil {
		return nil, apperror.Persistence("failed to list conversations", err)
	}
	return summaries, nil
}
