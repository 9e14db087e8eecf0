// Package bridgehttp provides the JSON reply envelope and common helpers for
// the bridge's HTTP handlers.
package bridgehttp

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/adhole/ftlbridge/internal/ftllock"
	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/adhole/ftlbridge/internal/ftlsock"
	"github.com/adhole/ftlbridge/internal/history"
)

// RegisterFunc is the function that sets the handler to handle the URL for
// the method.
type RegisterFunc func(method, url string, handler http.HandlerFunc)

// Stable error keys.  Clients match on these, not on messages.
const (
	KeyConnectionFail  = "ftl_connection_fail"
	KeyProtocolError   = "ftl_protocol_error"
	KeyVersionMismatch = "shm_version_mismatch"
	KeyLockError       = "lock_error"
	KeyBadRequest      = "bad_request"
	KeyNotFound        = "not_found"
	KeyUnknown         = "unknown"
)

// ReplyError is the error half of a reply.
type ReplyError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// reply is the uniform envelope of every response.  Error is null on
// success; Data carries the payload's empty default on failure.
type reply struct {
	Data  any         `json:"data"`
	Error *ReplyError `json:"error"`
}

// statusFromKey maps a stable error key to an HTTP status.
func statusFromKey(key string) (status int) {
	switch key {
	case KeyBadRequest:
		return http.StatusBadRequest
	case KeyNotFound:
		return http.StatusNotFound
	case KeyConnectionFail, KeyVersionMismatch, KeyLockError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// keyFromError classifies an error into a stable key.
func keyFromError(err error) (key string) {
	switch {
	case errors.Is(err, ftlsock.ErrConnect):
		return KeyConnectionFail
	case errors.Is(err, ftlsock.ErrProtocol):
		return KeyProtocolError
	case errors.Is(err, ftlmem.ErrSchemaVersion):
		return KeyVersionMismatch
	case isLockError(err):
		return KeyLockError
	case errors.Is(err, history.ErrBadCursor):
		return KeyBadRequest
	default:
		return KeyUnknown
	}
}

// isLockError reports whether err came from the shared-memory lock.
func isLockError(err error) (ok bool) {
	var lockErr *ftllock.LockError

	return errors.As(err, &lockErr) || errors.Is(err, ftllock.ErrNotHeld)
}

// WriteReply writes a successful reply with data as the payload.
func WriteReply(logger *slog.Logger, w http.ResponseWriter, data any) {
	writeJSON(logger, w, http.StatusOK, &reply{Data: data})
}

// WriteError writes a failure reply.  emptyData is the payload's empty
// default, so clients always find the data field in its usual shape.
func WriteError(logger *slog.Logger, w http.ResponseWriter, emptyData any, key, msg string) {
	writeJSON(logger, w, statusFromKey(key), &reply{
		Data: emptyData,
		Error: &ReplyError{
			Key:     key,
			Message: msg,
		},
	})
}

// WriteFromError classifies err, logs it, and writes the failure reply.
func WriteFromError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, emptyData any, err error) {
	key := keyFromError(err)
	logger.ErrorContext(
		r.Context(),
		"handling request",
		"method", r.Method,
		"path", r.URL.Path,
		"key", key,
		slogutil.KeyError, err,
	)

	WriteError(logger, w, emptyData, key, err.Error())
}

// writeJSON serializes the envelope.
func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, resp *reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		logger.Error("writing response", slogutil.KeyError, err)
	}
}
