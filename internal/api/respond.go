package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"alumnet/internal/apperror"
	"alumnet/internal/logging"
	"alumnet/internal/models"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle adapts a handler that returns an error. Application errors are
// written as {code, message}; anything else becomes a 500 and is logged.
func handle(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(w, r, err)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperror.CodeOf(err)
	status := apperror.HTTPStatus(code)

	message := err.Error()
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	logger := logging.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", code).Msg("request failed")
		message = http.StatusText(http.StatusInternalServerError)
	} else {
		logger.Debug().Str("code", code).Msg(message)
	}

	writeJSON(w, status, models.ErrorResponse{Code: code, Message: message})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.Validation("invalid request body")
	}
	return nil
}

// queryInt64 parses an optional non-negative integer query parameter.
func queryInt64(r *http.Request, key string) (int64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, apperror.Validation(key + " must be a non-negative integer")
	}
	return n, nil
}
