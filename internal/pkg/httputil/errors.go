package httputil

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/notification-queue/internal/pkg/ctxlog"
)

// ErrorMapping maps an error to a response. Matching uses errors.Is, so an
// error type whose Unwrap returns the sentinel matches too.
type ErrorMapping struct {
	Error  error
	Status int
	// Message replaces err.Error() in the body when set.
	Message string
	// RetryAfter is sent as a Retry-After header, rounded up to seconds.
	RetryAfter time.Duration
}

// HandleError answers with the first mapping err matches. Unmatched errors
// are logged and answered with a bare 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	logger := ctxlog.FromContext(ctx)

	m, ok := matchError(err, mappings)
	if !ok {
		logger.Error("internal error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	if m.Status >= http.StatusInternalServerError {
		logger.Warn("request failed", "status", m.Status, "error", err)
	} else {
		logger.Debug("request rejected", "status", m.Status, "error", err)
	}

	if m.RetryAfter > 0 {
		seconds := (m.RetryAfter + time.Second - 1) / time.Second
		w.Header().Set("Retry-After", strconv.FormatInt(int64(seconds), 10))
	}

	msg := m.Message
	if msg == "" {
		msg = err.Error()
	}
	Error(w, m.Status, msg)
}

func matchError(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			return m, true
		}
	}
	return ErrorMapping{}, false
}
