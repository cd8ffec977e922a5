package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/inbox"
	"github.com/bissquit/notification-queue/internal/pkg/ctxlog"
	"github.com/bissquit/notification-queue/internal/pkg/httputil"
	"github.com/bissquit/notification-queue/internal/queue"
	"github.com/bissquit/notification-queue/internal/users"
	"github.com/bissquit/notification-queue/internal/version"
	"github.com/go-chi/chi/v5"
)

const readinessTimeout = 2 * time.Second

type readinessCheck struct {
	name string
	ping func(ctx context.Context) error
}

type healthHandler struct {
	checks []readinessCheck
}

func (h *healthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/version", h.version)
}

func (h *healthHandler) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (h *healthHandler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	for _, check := range h.checks {
		if err := check.ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", check.name, "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, check.name+" unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (h *healthHandler) version(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

type dispatchRunner interface {
	RunNow(ctx context.Context) (queue.CycleResult, error)
}

type statsReader interface {
	GetQueueStats(ctx context.Context) (*queue.QueueStats, error)
}

type itemManager interface {
	ListForUser(ctx context.Context, userID string, status *queue.QueueStatus) ([]queue.ItemView, error)
	MarkFailed(ctx context.Context, id, message string) (*queue.ItemView, error)
	Cancel(ctx context.Context, id string) (*queue.ItemView, error)
}

type notifier interface {
	EnqueueForUser(ctx context.Context, req queue.NotifyRequest) (*queue.ItemView, error)
}

type countsReader interface {
	GetCounts(ctx context.Context, userID string) (*inbox.Counts, error)
}

// opsHandler serves operator endpoints: a manual dispatch trigger, queue
// statistics, per-user inspection, test notifications and the delivery
// failure callback.
type opsHandler struct {
	dispatch dispatchRunner
	stats    statsReader
	items    itemManager
	notify   notifier
	counts   countsReader

	// retryAfter is advertised when a user's quota is full. A slot frees
	// once the next dispatch cycle has run.
	retryAfter time.Duration
}

func (h *opsHandler) queueErrors() []httputil.ErrorMapping {
	return []httputil.ErrorMapping{
		{Error: queue.ErrInvalidRequest, Status: http.StatusBadRequest},
		{Error: queue.ErrItemNotFound, Status: http.StatusNotFound, Message: "queue item not found"},
		{Error: users.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		{Error: queue.ErrInvalidTransition, Status: http.StatusConflict},
		{Error: queue.ErrNotSubscribed, Status: http.StatusUnprocessableEntity},
		{Error: queue.ErrQueueLimitExceeded, Status: http.StatusTooManyRequests, RetryAfter: h.retryAfter},
		{Error: queue.ErrQueueDisabled, Status: http.StatusServiceUnavailable},
	}
}

func (h *opsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/dispatch", h.runDispatch)
	r.Get("/queue/stats", h.queueStats)
	r.Post("/queue/{id}/fail", h.markFailed)
	r.Post("/queue/{id}/cancel", h.cancel)
	r.Get("/users/{userID}/queue", h.listForUser)
	r.Post("/users/{userID}/notify", h.notifyUser)
	r.Get("/users/{userID}/counts", h.userCounts)
}

func (h *opsHandler) runDispatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.dispatch.RunNow(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, h.queueErrors())
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}

func (h *opsHandler) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetQueueStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.JSON(w, http.StatusOK, stats)
}

type markFailedRequest struct {
	Error string `json:"error"`
}

func (h *opsHandler) markFailed(w http.ResponseWriter, r *http.Request) {
	var req markFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Error == "" {
		httputil.Error(w, http.StatusBadRequest, "error is required")
		return
	}

	item, err := h.items.MarkFailed(r.Context(), chi.URLParam(r, "id"), req.Error)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, h.queueErrors())
		return
	}
	httputil.JSON(w, http.StatusOK, item)
}

func (h *opsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	item, err := h.items.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, h.queueErrors())
		return
	}
	httputil.JSON(w, http.StatusOK, item)
}

func (h *opsHandler) listForUser(w http.ResponseWriter, r *http.Request) {
	var status *queue.QueueStatus
	if s := r.URL.Query().Get("status"); s != "" {
		qs := queue.QueueStatus(s)
		status = &qs
	}

	items, err := h.items.ListForUser(r.Context(), chi.URLParam(r, "userID"), status)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, h.queueErrors())
		return
	}
	if items == nil {
		items = []queue.ItemView{}
	}
	httputil.JSON(w, http.StatusOK, items)
}

type notifyRequest struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
	ActionURL string         `json:"action_url"`
	Priority  string         `json:"priority"`
}

func (h *opsHandler) notifyUser(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	notificationType := domain.NotificationType(req.Type)
	if !notificationType.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "unknown notification type")
		return
	}

	item, err := h.notify.EnqueueForUser(r.Context(), queue.NotifyRequest{
		UserID:    chi.URLParam(r, "userID"),
		Type:      notificationType,
		Title:     req.Title,
		Message:   req.Message,
		Payload:   req.Payload,
		ActionURL: req.ActionURL,
		Priority:  domain.Priority(req.Priority),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, h.queueErrors())
		return
	}
	httputil.JSON(w, http.StatusCreated, item)
}

func (h *opsHandler) userCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.counts.GetCounts(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.JSON(w, http.StatusOK, counts)
}
