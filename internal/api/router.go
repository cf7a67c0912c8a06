package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"alumnet/internal/logging"
	"alumnet/internal/storage"
)

type RouterOptions struct {
	Logger         zerolog.Logger
	MetricsEnabled bool
	MetricsPath    string
}

// NewRouter mounts the REST API under /api alongside /ws, /uploads,
// /health and the metrics endpoint.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	router := mux.NewRouter()
	router.Use(logging.HTTPMiddleware(opts.Logger))
	router.Use(h.instrument)

	router.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
	router.Handle("/health", handle(h.HandleHealth)).Methods(http.MethodGet)
	if opts.MetricsEnabled {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, h.metrics.Handler()).Methods(http.MethodGet)
	}

	uploads := "/" + storage.PublicPrefix + "/"
	router.PathPrefix(uploads).Handler(http.StripPrefix(uploads, http.FileServer(http.Dir(h.storage.BasePath()))))

	api := router.PathPrefix("/api").Subrouter()

	// Public endpoints
	api.Handle("/users/signup", handle(h.HandleSignup)).Methods(http.MethodPost)
	api.Handle("/users/login", handle(h.HandleLogin)).Methods(http.MethodPost)
	api.Handle("/users/logout", handle(h.HandleLogout)).Methods(http.MethodPost)

	// Authenticated endpoints
	secured := api.NewRoute().Subrouter()
	secured.Use(h.WithAuth)
	secured.Handle("/users/me", handle(h.HandleMe)).Methods(http.MethodGet)
	secured.Handle("/users/conversations", handle(h.HandleConversations)).Methods(http.MethodGet)
	secured.Handle("/users/online", handle(h.HandleOnlineUsers)).Methods(http.MethodGet)
	secured.Handle("/messages", handle(h.HandleSendMessage)).Methods(http.MethodPost)
	secured.Handle("/messages/upload-image", handle(h.HandleUploadImage)).Methods(http.MethodPost)
	secured.Handle("/messages/conversations/{id:[0-9]+}/messages", handle(h.HandleMessages)).Methods(http.MethodGet)

	return h.WithCORS(router)
}
