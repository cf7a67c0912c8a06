package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alumnet/internal/apperror"
	"alumnet/internal/config"
	"alumnet/internal/logging"
	"alumnet/internal/metrics"
	"alumnet/internal/models"
	"alumnet/internal/presence"
)

var ErrHubStopped = errors.New("websocket hub stopped")

const (
	enqueueTimeout    = time.Second
	membershipTimeout = 2 * time.Second
)

// Membership reports whether a user takes part in a conversation.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

type Options struct {
	WebSocket     config.WebSocketConfig
	PreviewLength int
	// PushOnPersist means persisted messages reach receivers through
	// NotifyMessage, so client sendMessage events are acknowledged but not
	// relayed.
	PushOnPersist bool
	// Membership gates relayed sendMessage events when PushOnPersist is off.
	Membership    Membership
	Metrics       *metrics.Collector
	Logger        zerolog.Logger
}

type inbound struct {
	client *Client
	data   []byte
}

// Hub owns every live connection. All connection state, including the
// presence registry writes, is mutated only from Run, one event at a time.
type Hub struct {
	registry      *presence.Registry
	cfg           config.WebSocketConfig
	previewLength int
	pushOnPersist bool
	membership    Membership
	metrics       *metrics.Collector
	logger        zerolog.Logger

	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	deliveries chan models.Delivery
	done       chan struct{}
}

func NewHub(registry *presence.Registry, opts Options) *Hub {
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 30
	}
	if opts.WebSocket.SendBuffer <= 0 {
		opts.WebSocket.SendBuffer = 256
	}
	return &Hub{
		registry:      registry,
		cfg:           opts.WebSocket,
		previewLength: opts.PreviewLength,
		pushOnPersist: opts.PushOnPersist,
		membership:    opts.Membership,
		metrics:       opts.Metrics,
		logger:        opts.Logger.With().Str("component", "websocket").Logger(),
		clients:       make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inbound),
		deliveries:    make(chan models.Delivery, 256),
		done:          make(chan struct{}),
	}
}

// Run is the dispatch loop. It returns when ctx is cancelled, closing every
// connection and clearing the registry.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("websocket hub started")
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case in := <-h.inbound:
			h.dispatch(in.client, in.data)

		case delivery := <-h.deliveries:
			h.deliverMessage(delivery)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.registry.Reset()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.metrics.SetConnections(0)
	h.metrics.SetOnlineUsers(0)
	h.logger.Info().Msg("websocket hub stopped")
}

// Register hands a new connection to the hub.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) submit(client *Client, data []byte) bool {
	select {
	case h.inbound <- inbound{client: client, data: data}:
		return true
	case <-h.done:
		return false
	}
}

// NotifyMessage queues a persisted message for live delivery to its
// receiver. It never waits longer than a second.
func (h *Hub) NotifyMessage(ctx context.Context, delivery models.Delivery) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()

	select {
	case h.deliveries <- delivery:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		h.metrics.PushEvent(EventGetMessage, metrics.OutcomeDropped)
		return errors.New("websocket hub delivery queue is full")
	}
}

// OnlineUsers is the current presence snapshot.
func (h *Hub) OnlineUsers() []presence.Entry {
	return h.registry.ListAll()
}

func (h *Hub) addClient(client *Client) {
	h.clients[client.ID] = client
	h.metrics.SetConnections(len(h.clients))

	h.logger.Debug().
		Str(logging.FieldConnID, client.ID).
		Int64(logging.FieldUserID, client.principal.UserID).
		Int("clients", len(h.clients)).
		Msg("client connected")

	// Send welcome message
	h.send(client, EventSystem, SystemPayload{Message: "Connected to chat server", SocketID: client.ID})
}

func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.send)
	h.metrics.SetConnections(len(h.clients))

	h.logger.Debug().
		Str(logging.FieldConnID, client.ID).
		Int64(logging.FieldUserID, client.principal.UserID).
		Int("clients", len(h.clients)).
		Msg("client disconnected")

	userID, ok := h.registry.Unregister(client.ID)
	if !ok {
		return
	}
	h.promote(userID)
	h.metrics.SetOnlineUsers(h.registry.Len())
	h.broadcastPresence()
}

// promote hands presence to another identified connection of the same
// user, if one is still open.
func (h *Hub) promote(userID int64) {
	for _, other := range h.clients {
		if other.identified && other.principal.UserID == userID {
			h.registry.Register(userID, other.ID)
			return
		}
	}
}

func (h *Hub) dispatch(client *Client, data []byte) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Interface("panic", r).
				Str(logging.FieldConnID, client.ID).
				Msg("event handler panicked")
		}
	}()

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || strings.TrimSpace(frame.Type) == "" {
		h.reject(client, "", apperror.Validation("frame must be a JSON object with a type"))
		return
	}

	switch frame.Type {
	case EventAddUser:
		h.handleAddUser(client, frame.Payload)
	case EventSendMessage:
		h.handleSendMessage(client, frame.Payload)
	case EventTyping:
		h.handleTyping(client, frame.Payload)
	case EventPing:
		h.send(client, EventPong, nil)
	default:
		h.reject(client, frame.Type, apperror.Validation("unknown event"))
	}
}

func (h *Hub) handleAddUser(client *Client, payload json.RawMessage) {
	userID, err := parseUserID(payload)
	if err != nil {
		h.reject(client, EventAddUser, apperror.Validation("addUser expects a user id"))
		return
	}
	if userID != client.principal.UserID {
		h.reject(client, EventAddUser, apperror.Forbidden("cannot announce another user"))
		return
	}

	if client.identified {
		h.send(client, EventGetUsers, h.registry.ListAll())
		return
	}

	client.identified = true
	if !h.registry.Register(userID, client.ID) {
		h.logger.Debug().
			Str(logging.FieldConnID, client.ID).
			Int64(logging.FieldUserID, userID).
			Msg("user already online on another connection")
	}
	h.metrics.SetOnlineUsers(h.registry.Len())
	h.broadcastPresence()
}

func (h *Hub) handleSendMessage(client *Client, payload json.RawMessage) {
	if !client.identified {
		h.reject(client, EventSendMessage, apperror.Forbidden("announce with addUser first"))
		return
	}

	var msg SendMessagePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.reject(client, EventSendMessage, apperror.Validation("malformed sendMessage payload"))
		return
	}
	if msg.SenderID != nil && *msg.SenderID != client.principal.UserID {
		h.reject(client, EventSendMessage, apperror.Forbidden("senderId does not match this connection"))
		return
	}
	if msg.ReceiverID <= 0 || msg.ConversationID <= 0 || strings.TrimSpace(msg.Content) == "" {
		h.reject(client, EventSendMessage, apperror.Validation("receiverId, conversationId and content are required"))
		return
	}
	if msg.ReceiverID == client.principal.UserID {
		h.reject(client, EventSendMessage, apperror.SelfMessage())
		return
	}
	if msg.MessageType == "" {
		msg.MessageType = models.KindText
	}
	if !msg.MessageType.Valid() {
		h.reject(client, EventSendMessage, apperror.Validation("messageType must be text or image"))
		return
	}

	if h.pushOnPersist {
		h.metrics.PushEvent(EventSendMessage, metrics.OutcomeDropped)
		h.logger.Debug().
			Str(logging.FieldConnID, client.ID).
			Int64(logging.FieldConversationID, msg.ConversationID).
			Msg("relay skipped, delivery follows persistence")
		h.send(client, EventAck, AckPayload{Event: EventSendMessage, ConversationID: msg.ConversationID})
		return
	}
	if err := h.checkMembership(msg.ConversationID, client.principal.UserID, msg.ReceiverID); err != nil {
		h.reject(client, EventSendMessage, err)
		return
	}

	delivered := h.relayMessage(msg.ReceiverID, MessagePayload{
		SenderID:       client.principal.UserID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		CreatedAt:      time.Now().UTC(),
	}, client.displayName)

	h.send(client, EventAck, AckPayload{
		Event:          EventSendMessage,
		ConversationID: msg.ConversationID,
		Delivered:      delivered,
	})
}

// checkMembership requires both ends of a relayed message to be
// participants of the named conversation.
func (h *Hub) checkMembership(conversationID int64, userIDs ...int64) *apperror.Error {
	if h.membership == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), membershipTimeout)
	defer cancel()

	for _, userID := range userIDs {
		ok, err := h.membership.IsParticipant(ctx, conversationID, userID)
		if err != nil {
			h.logger.Error().Err(err).Int64(logging.FieldConversationID, conversationID).Msg("membership check failed")
			return apperror.Persistence("membership check failed", err)
		}
		if !ok {
			return apperror.Forbidden("not a participant of this conversation")
		}
	}
	return nil
}

func (h *Hub) handleTyping(client *Client, payload json.RawMessage) {
	if !client.identified {
		h.reject(client, EventTyping, apperror.Forbidden("announce with addUser first"))
		return
	}

	var typing TypingPayload
	if err := json.Unmarshal(payload, &typing); err != nil || typing.ReceiverID <= 0 || typing.IsTyping == nil {
		h.reject(client, EventTyping, apperror.Validation("typing needs receiverId and isTyping"))
		return
	}

	target, ok := h.onlineClient(typing.ReceiverID)
	if !ok {
		h.metrics.PushEvent(EventGetTyping, metrics.OutcomeOffline)
		return
	}
	h.send(target, EventGetTyping, TypingNotice{SenderID: client.principal.UserID, IsTyping: *typing.IsTyping})
}

// deliverMessage pushes a message persisted through the REST path.
func (h *Hub) deliverMessage(delivery models.Delivery) {
	delivered := h.relayMessage(delivery.ReceiverID, messagePayloadFrom(delivery.Message), delivery.SenderName)

	h.logger.Debug().
		Int64(logging.FieldReceiverID, delivery.ReceiverID).
		Int64(logging.FieldConversationID, delivery.Message.ConversationID).
		Bool("delivered", delivered).
		Msg("server-side delivery")
}

// relayMessage sends getMessage and getNotification to the receiver's
// connection. An offline receiver is not an error.
func (h *Hub) relayMessage(receiverID int64, msg MessagePayload, senderName string) bool {
	target, ok := h.onlineClient(receiverID)
	if !ok {
		h.metrics.PushEvent(EventGetMessage, metrics.OutcomeOffline)
		return false
	}

	delivered := h.send(target, EventGetMessage, msg)
	h.send(target, EventGetNotification, NotificationPayload{
		SenderID:   msg.SenderID,
		SenderName: senderName,
		Message:    preview(msg.Content, msg.MessageType, h.previewLength),
	})
	return delivered
}

func (h *Hub) onlineClient(userID int64) (*Client, bool) {
	connID, ok := h.registry.Lookup(userID)
	if !ok {
		return nil, false
	}
	client, ok := h.clients[connID]
	return client, ok
}

func (h *Hub) broadcastPresence() {
	snapshot := h.registry.ListAll()
	for _, client := range h.clients {
		h.send(client, EventGetUsers, snapshot)
	}
}

func (h *Hub) reject(client *Client, event string, err *apperror.Error) {
	label := event
	if label == "" {
		label = "malformed"
	}
	h.metrics.PushEvent(label, metrics.OutcomeRejected)
	h.logger.Warn().
		Str(logging.FieldConnID, client.ID).
		Int64(logging.FieldUserID, client.principal.UserID).
		Str(logging.FieldEvent, event).
		Str("code", err.Code).
		Msg(err.Message)

	h.send(client, EventError, ErrorPayload{Event: event, Code: err.Code, Message: err.Message})
}

// send enqueues one frame without blocking the loop. A full buffer drops
// the frame.
func (h *Hub) send(client *Client, event string, payload interface{}) bool {
	data, err := json.Marshal(models.WebSocketMessage{Type: event, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str(logging.FieldEvent, event).Msg("failed to marshal event")
		return false
	}

	select {
	case client.send <- data:
		h.metrics.PushEvent(event, metrics.OutcomeDelivered)
		return true
	default:
		h.metrics.PushEvent(event, metrics.OutcomeDropped)
		h.logger.Warn().
			Str(logging.FieldConnID, client.ID).
			Str(logging.FieldEvent, event).
			Msg("send buffer full, dropping event")
		return false
	}
}
