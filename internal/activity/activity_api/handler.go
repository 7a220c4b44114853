package activity_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-activity/internal/activity"
	"ms-activity/internal/auth"
	"ms-activity/internal/logger"
	"ms-activity/internal/models"
	"ms-activity/internal/notify"
	"ms-activity/internal/pass"
	"ms-activity/internal/sse"
	"ms-activity/internal/utils"
)

type NotificationStore interface {
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
}

type Handler struct {
	Service       *activity.Service
	Notifications NotificationStore
	Hub           *sse.Hub
	Passes        *pass.Generator
	Logger        *logger.Logger

	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
}

// RegisterRoutes mounts every authenticated route under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/categories/counts", h.CategoryCounts)

		r.Route("/{eventId}", func(r chi.Router) {
			r.Get("/", h.GetEvent)
			r.Post("/requests", h.SubmitJoinRequest)
			r.Put("/requests/{userId}", h.RespondToRequest)
			r.Post("/complete", h.CompleteEvent)
			r.Post("/cancel", h.CancelEvent)
			r.Post("/ratings", h.RecordRating)
			r.Get("/pass", h.GetPass)
		})
	})

	r.Get("/users/{userId}/rating", h.GetUserRating)

	r.Get("/notifications", h.ListNotifications)
	r.Put("/notifications/{id}/read", h.MarkNotificationRead)

	r.Get("/stream", h.Stream)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var in models.CreateEventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	view, err := h.Service.CreateEvent(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("event created", view))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.GetEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("event", view))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Category:  q.Get("category"),
		Status:    models.EventStatus(q.Get("status")),
		CreatorID: q.Get("creator"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.badRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	views, err := h.Service.ListEvents(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("events", views))
}

func (h *Handler) CategoryCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Service.CategoryCounts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("category counts", counts))
}

func (h *Handler) SubmitJoinRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.SubmitJoinRequest(r.Context(), chi.URLParam(r, "eventId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("join request submitted", res))
}

func (h *Handler) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.RequestStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := h.Service.RespondToRequest(r.Context(),
		chi.URLParam(r, "eventId"), chi.URLParam(r, "userId"), body.Status, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("request "+string(body.Status), res))
}

func (h *Handler) CompleteEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Service.CompleteEvent(r.Context(), chi.URLParam(r, "eventId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("event completed", ev))
}

func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	ev, err := h.Service.CancelEvent(r.Context(), chi.URLParam(r, "eventId"), auth.UserID(r.Context()), body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("event cancelled", ev))
}

func (h *Handler) RecordRating(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
		Rating int    `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	user, err := h.Service.RecordRating(r.Context(),
		chi.URLParam(r, "eventId"), auth.UserID(r.Context()), body.UserID, body.Rating)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("rating recorded", user))
}

func (h *Handler) GetUserRating(w http.ResponseWriter, r *http.Request) {
	user, err := h.Service.GetUserRating(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("user rating", user))
}

// GetPass returns the caller's QR pass as a PNG.
func (h *Handler) GetPass(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	view, err := h.Service.GetEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !activity.CanHoldPass(view.Event, userID) {
		h.writeError(w, r, activity.ErrNotAuthorized)
		return
	}

	png, err := h.Passes.PNG(pass.Claims{EventID: view.ID, UserID: userID, IssuedAt: time.Now().UTC()}, 256)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.Notifications.ListForUser(r.Context(), auth.UserID(r.Context()), unread, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("notifications", list))
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	err := h.Notifications.MarkRead(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("notification marked read", nil))
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("bad request", msg))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(http.StatusText(status), err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, activity.ErrEventNotFound),
		errors.Is(err, activity.ErrRequestNotFound),
		errors.Is(err, notify.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, activity.ErrNotAuthorized),
		errors.Is(err, activity.ErrSelfJoinDenied),
		errors.Is(err, activity.ErrSelfRatingDenied):
		return http.StatusForbidden
	case errors.Is(err, activity.ErrEventClosed),
		errors.Is(err, activity.ErrDuplicateRequest),
		errors.Is(err, activity.ErrCapacityExceeded),
		errors.Is(err, activity.ErrAlreadyRated),
		errors.Is(err, activity.ErrEventNotCompleted),
		errors.Is(err, activity.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, activity.ErrInvalidInput),
		errors.Is(err, activity.ErrInvalidRating),
		errors.Is(err, activity.ErrEventNotPaid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
