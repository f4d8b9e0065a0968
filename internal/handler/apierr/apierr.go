// Package apierr maps core errors to HTTP responses.
package apierr

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/rest"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/inbox"
	"github.com/zhouzirui/pmdesk/realtime/internal/session"
	"github.com/zhouzirui/pmdesk/realtime/internal/transport"
	"github.com/zhouzirui/pmdesk/realtime/pkg/utils"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	var apiErr *rest.APIError
	switch {
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, notification.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, inbox.ErrNotFound), errors.Is(err, session.ErrUnknownRoom):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidRoom), errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, rest.ErrUnauthorized),
		errors.Is(err, session.ErrMissingCredential),
		errors.Is(err, session.ErrCredentialExpired):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		if apiErr.Transient() {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a JSON error body.
func Respond(w http.ResponseWriter, err error) {
	utils.RespondError(w, Status(err), err.Error())
}
