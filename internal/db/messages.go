package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"alumnet/internal/apperror"
	"alumnet/internal/models"
)

// Page selects a window of a conversation's history. After is the id of
// the last message already seen (0 for the beginning); Limit 0 means the
// whole remaining history.
type Page struct {
	After int64
	Limit int
}

// AppendMessage stores a message from a participant and returns it with the
// server-assigned id and timestamp.
func (db *DB) AppendMessage(ctx context.Context, conversationID, senderID int64, content string, kind models.MessageKind) (*models.Message, error) {
	if !kind.Valid() {
		return nil, apperror.Validation("unknown message type")
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		CreatedAt:      now(),
	}

	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var participants []int64
		if err := tx.SelectContext(ctx, &participants, tx.Rebind(`
			SELECT user_id FROM conversation_participants WHERE conversation_id = ?
		`), conversationID); err != nil {
			return apperror.Persistence("failed to load participants", err)
		}
		if len(participants) == 0 {
			return apperror.NotFound("conversation not found")
		}
		if !containsID(participants, senderID) {
			return apperror.Forbidden("sender is not a participant of this conversation")
		}

		err := tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO messages (conversation_id, sender_id, content, message_type, created_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`), msg.ConversationID, msg.SenderID, msg.Content, msg.Kind, msg.CreatedAt).Scan(&msg.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return apperror.Forbidden("sender is not a participant of this conversation")
			}
			return apperror.Persistence("failed to append message", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns messages ascending by (created_at, id).
func (db *DB) ListMessages(ctx context.Context, conversationID int64, page Page) ([]models.Message, error) {
	var (
		query strings.Builder
		args  = []interface{}{conversationID}
	)

	query.WriteString(`
		SELECT id, conversation_id, sender_id, content, message_type, created_at
		FROM messages m
		WHERE m.conversation_id = ?`)

	if page.After > 0 {
		var found int
		if err := db.GetContext(ctx, &found, db.Rebind(`
			SELECT COUNT(*) FROM messages WHERE id = ? AND conversation_id = ?
		`), page.After, conversationID); err != nil {
			return nil, apperror.Persistence("failed to resolve cursor", err)
		}
		if found == 0 {
			return nil, apperror.Validation("cursor does not belong to this conversation")
		}

		query.WriteString(`
		AND (m.created_at, m.id) > (SELECT c.created_at, c.id FROM messages c WHERE c.id = ?)`)
		args = append(args, page.After)
	}

	query.WriteString(`
		ORDER BY m.created_at ASC, m.id ASC`)

	if page.Limit > 0 {
		query.WriteString(`
		LIMIT ?`)
		args = append(args, page.Limit)
	}

	messages := []models.Message{}
	if err := db.SelectContext(ctx, &messages, db.Rebind(query.String()), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return messages, nil
		}
		return nil, apperror.Persistence("failed to list messages", err)
	}
	return messages, nil
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
