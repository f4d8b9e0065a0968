package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/rest"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/inbox"
	"github.com/zhouzirui/pmdesk/realtime/internal/session"
	"github.com/zhouzirui/pmdesk/realtime/internal/transport"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{transport.ErrNotConnected, http.StatusServiceUnavailable},
		{fmt.Errorf("send: %w", transport.ErrNotConnected), http.StatusServiceUnavailable},
		{notification.ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("%w: n1", inbox.ErrNotFound), http.StatusNotFound},
		{session.ErrUnknownRoom, http.StatusNotFound},
		{session.ErrEmptyMessage, http.StatusBadRequest},
		{&rest.APIError{StatusCode: http.StatusUnauthorized}, http.StatusUnauthorized},
		{&rest.APIError{StatusCode: http.StatusInternalServerError}, http.StatusServiceUnavailable},
		{fmt.Errorf("read n1: %w", &rest.APIError{StatusCode: http.StatusTooManyRequests}), http.StatusServiceUnavailable},
		{&rest.APIError{StatusCode: http.StatusNotFound}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}
