package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	gorilla "github.com/gorilla/websocket"

	"alumnet/internal/apperror"
	"alumnet/internal/auth"
	"alumnet/internal/db"
	"alumnet/internal/directory"
	"alumnet/internal/logging"
	"alumnet/internal/messaging"
	"alumnet/internal/metrics"
	"alumnet/internal/models"
	"alumnet/internal/storage"
	"alumnet/internal/websocket"
)

const (
	headerNextCursor = "X-Next-Cursor"
	uploadField      = "chat_image"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Directory     *directory.Directory
	Resolver      *auth.Resolver
	Messages      *messaging.Service
	Hub           *websocket.Hub
	Storage       *storage.LocalStorage
	Metrics       *metrics.Collector
	Store         Pinger
	AllowedOrigin string
	SecureCookie  bool
}

type Handlers struct {
	users         *directory.Directory
	resolver      *auth.Resolver
	messages      *messaging.Service
	hub           *websocket.Hub
	storage       *storage.LocalStorage
	metrics       *metrics.Collector
	store         Pinger
	allowedOrigin string
	secureCookie  bool
	upgrader      gorilla.Upgrader
}

func NewHandlers(deps Deps) *Handlers {
	h := &Handlers{
		users:         deps.Directory,
		resolver:      deps.Resolver,
		messages:      deps.Messages,
		hub:           deps.Hub,
		storage:       deps.Storage,
		metrics:       deps.Metrics,
		store:         deps.Store,
		allowedOrigin: deps.AllowedOrigin,
		secureCookie:  deps.SecureCookie,
	}
	h.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == h.allowedOrigin
		},
	}
	return h
}

// User handlers
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) error {
	var req models.SignupRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	user, err := h.users.Signup(r.Context(), req)
	if err != nil {
		return err
	}

	logger := logging.Ctx(r.Context())
	logger.Info().Int64(logging.FieldUserID, user.ID).Msg("user signed up")

	writeJSON(w, http.StatusCreated, user)
	return nil
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) error {
	var req models.LoginRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	token, expiresAt, err := h.resolver.Issue(user)
	if err != nil {
		return apperror.Internal(err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, ExpiresAt: expiresAt, User: *user})
	return nil
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) error {
	// Clear the auth cookie
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) error {
	userID, err := principalID(r)
	if err != nil {
		return err
	}

	user, err := h.users.ByID(r.Context(), userID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, user)
	return nil
}

func (h *Handlers) HandleConversations(w http.ResponseWriter, r *http.Request) error {
	userID, err := principalID(r)
	if err != nil {
		return err
	}

	summaries, err := h.messages.ListConversations(r.Context(), userID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, summaries)
	return nil
}

func (h *Handlers) HandleOnlineUsers(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, h.hub.OnlineUsers())
	return nil
}

// Message handlers
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) error {
	userID, err := principalID(r)
	if err != nil {
		return err
	}

	var req models.SendMessageRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	res, err := h.messages.SendMessage(r.Context(), messaging.SendInput{
		SenderID:      userID,
		ReceiverEmail: req.ReceiverEmail,
		ReceiverID:    req.ReceiverID,
		Content:       req.Content,
		Kind:          req.MessageType,
	})
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusCreated, models.SendMessageResponse{
		Message:        "Message sent successfully",
		ConversationID: res.ConversationID,
		MessageID:      res.Message.ID,
	})
	return nil
}

func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) error {
	userID, err := principalID(r)
	if err != nil {
		return err
	}

	conversationID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || conversationID <= 0 {
		return apperror.Validation("invalid conversation id")
	}
	after, err := queryInt64(r, "after")
	if err != nil {
		return err
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		return err
	}
	if limit > messaging.MaxPageSize {
		limit = messaging.MaxPageSize
	}

	messages, err := h.messages.ListMessages(r.Context(), userID, conversationID, db.Page{After: after, Limit: int(limit)})
	if err != nil {
		return err
	}

	if limit > 0 && len(messages) == int(limit) {
		w.Header().Set(headerNextCursor, strconv.FormatInt(messages[len(messages)-1].ID, 10))
	}
	writeJSON(w, http.StatusOK, messages)
	return nil
}

func (h *Handlers) HandleUploadImage(w http.ResponseWriter, r *http.Request) error {
	userID, err := principalID(r)
	if err != nil {
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.storage.MaxBytes()+(1<<20))
	file, _, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.Validation("image is too large")
		}
		return apperror.Validation("multipart field " + uploadField + " is required")
	}
	defer file.Close()

	imageURL, err := h.storage.SaveChatImage(r.Context(), userID, file)
	if err != nil {
		return err
	}

	logger := logging.Ctx(r.Context())
	logger.Info().Str("image", imageURL).Msg("chat image uploaded")

	writeJSON(w, http.StatusOK, models.UploadImageResponse{ImageURL: imageURL})
	return nil
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) error {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.PingContext(ctx); err != nil {
			return apperror.Persistence("database unreachable", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

// WebSocket handler
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, err := h.resolver.ResolveRequest(r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger := logging.Ctx(r.Context())
	displayName := h.users.DisplayName(r.Context(), principal.UserID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := websocket.NewClient(h.hub, conn, *principal, displayName)
	if err := h.hub.Register(client); err != nil {
		logger.Warn().Err(err).Msg("hub refused connection")
		conn.Close()
		return
	}

	logger.Debug().
		Int64(logging.FieldUserID, principal.UserID).
		Str(logging.FieldConnID, client.ID).
		Msg("websocket authenticated")

	go client.WritePump()
	go client.ReadPump()
}
