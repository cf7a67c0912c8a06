package messaging

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"alumnet/internal/apperror"
	"alumnet/internal/db"
	"alumnet/internal/logging"
	"alumnet/internal/metrics"
	"alumnet/internal/models"
)

const (
	MaxContentLength = 5000
	MaxPageSize      = 200
)

// ConversationStore is the durable side of messaging.
type ConversationStore interface {
	FindConversationBetween(ctx context.Context, userA, userB int64) (int64, bool, error)
	CreateConversation(ctx context.Context, userA, userB int64) (int64, error)
	AppendMessage(ctx context.Context, conversationID, senderID int64, content string, kind models.MessageKind) (*models.Message, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	ListMessages(ctx context.Context, conversationID int64, page db.Page) ([]models.Message, error)
	ListConversationsFor(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
}

// UserDirectory resolves user identities.
type UserDirectory interface {
	ByEmail(ctx context.Context, email string) (*models.User, error)
	ByID(ctx context.Context, id int64) (*models.User, error)
}

// Notifier pushes a persisted message to the receiver's live connection.
type Notifier interface {
	NotifyMessage(ctx context.Context, delivery models.Delivery) error
}

type Service struct {
	store    ConversationStore
	users    UserDirectory
	notifier Notifier
	metrics  *metrics.Collector
}

// NewService builds the message service. notifier may be nil, in which
// case delivery is left to the client-emitted push event.
func NewService(store ConversationStore, users UserDirectory, notifier Notifier, m *metrics.Collector) *Service {
	return &Service{store: store, users: users, notifier: notifier, metrics: m}
}

type SendInput struct {
	SenderID      int64
	ReceiverEmail string
	ReceiverID    int64
	Content       string
	Kind          models.MessageKind
}

type SendResult struct {
	ConversationID int64
	Message        models.Message
	// Created is set when this send opened the conversation.
	Created bool
}

// SendMessage resolves the receiver, finds or creates the pair's
// conversation, stores the message and then hands it to the notifier.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*SendResult, error) {
	if err := validateSend(&in); err != nil {
		return nil, err
	}

	sender, err := s.users.ByID(ctx, in.SenderID)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil, apperror.NotFound("sender not found")
		}
		return nil, err
	}

	receiver, err := s.resolveReceiver(ctx, in)
	if err != nil {
		return nil, err
	}
	if receiver.ID == sender.ID {
		return nil, apperror.SelfMessage()
	}

	conversationID, created, err := s.getOrCreateConversation(ctx, sender.ID, receiver.ID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AppendMessage(ctx, conversationID, sender.ID, in.Content, in.Kind)
	if err != nil {
		return nil, err
	}
	s.metrics.MessagePersisted(string(msg.Kind))

	logger := logging.Ctx(ctx)
	logger.Debug().
		Int64(logging.FieldUserID, sender.ID).
		Int64(logging.FieldReceiverID, receiver.ID).
		Int64(logging.FieldConversationID, conversationID).
		Bool("created", created).
		Msg("message persisted")

	if s.notifier != nil {
		delivery := models.Delivery{Message: *msg, SenderName: sender.FullName, ReceiverID: receiver.ID}
		if err := s.notifier.NotifyMessage(ctx, delivery); err != nil {
			logger.Warn().Err(err).Int64(logging.FieldConversationID, conversationID).Msg("push fan-out failed")
		}
	}

	return &SendResult{ConversationID: conversationID, Message: *msg, Created: created}, nil
}

func validateSend(in *SendInput) error {
	if in.SenderID <= 0 {
		return apperror.AuthMissing()
	}
	in.ReceiverEmail = strings.TrimSpace(in.ReceiverEmail)
	if in.ReceiverEmail == "" && in.ReceiverID <= 0 {
		return apperror.Validation("receiver_email is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return apperror.Validation("content is required")
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return apperror.Validation("content is too long")
	}
	if in.Kind == "" {
		in.Kind = models.KindText
	}
	if !in.Kind.Valid() {
		return apperror.Validation("message_type must be text or image")
	}
	return nil
}

func (s *Service) resolveReceiver(ctx context.Context, in SendInput) (*models.User, error) {
	var (
		receiver *models.User
		err      error
	)
	if in.ReceiverEmail != "" {
		receiver, err = s.users.ByEmail(ctx, in.ReceiverEmail)
	} else {
		receiver, err = s.users.ByID(ctx, in.ReceiverID)
	}
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil, apperror.RecipientNotFound()
		}
		return nil, err
	}
	return receiver, nil
}

// getOrCreateConversation is safe under concurrent first contact: the
// store's unique pair key lets exactly one create win, and the loser
// re-reads the winner's row.
func (s *Service) getOrCreateConversation(ctx context.Context, senderID, receiverID int64) (int64, bool, error) {
	id, ok, err := s.store.FindConversationBetween(ctx, senderID, receiverID)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return id, false, nil
	}

	id, err = s.store.CreateConversation(ctx, senderID, receiverID)
	if err == nil {
		s.metrics.ConversationCreated()
		return id, true, nil
	}
	if !errors.Is(err, db.ErrConversationExists) {
		return 0, false, err
	}

	id, ok, err = s.store.FindConversationBetween(ctx, senderID, receiverID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, apperror.Persistence("conversation vanished after conflict", db.ErrConversationExists)
	}
	return id, false, nil
}

// ListMessages returns a conversation's history to one of its participants.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID int64, page db.Page) ([]models.Message, error) {
	if page.Limit < 0 || page.After < 0 {
		return nil, apperror.Validation("after and limit must not be negative")
	}
	if page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Forbidden("not a participant of this conversation")
	}

	return s.store.ListMessages(ctx, conversationID, page)
}

func (s *Service) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	return s.store.ListConversationsFor(ctx, userID)
}
