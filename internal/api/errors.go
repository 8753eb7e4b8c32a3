package api

import (
	"errors"
	"net/http"

	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/monitor"
	"github.com/krystian-wojtas/skydive/internal/store"
)

// ErrBadRequest marks malformed request bodies.
var ErrBadRequest = errors.New("BAD_REQUEST")

// WriteErrorFrom maps err onto a status code and error envelope.
func WriteErrorFrom(w http.ResponseWriter, err error) {
	status, code := classify(err)
	WriteError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var stateErr *action.StateError
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, action.ErrUnknownType):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, monitor.ErrNoActiveAction):
		return http.StatusNotFound, "NO_ACTIVE_ACTION"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, monitor.ErrBusy):
		return http.StatusServiceUnavailable, "BUSY"
	case errors.Is(err, monitor.ErrUnavailable), errors.Is(err, monitor.ErrClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	case errors.As(err, &stateErr):
		return http.StatusConflict, stateErr.Code.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
