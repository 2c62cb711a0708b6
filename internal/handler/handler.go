package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cardwise-api/internal/apperrors"
	"cardwise-api/internal/middleware"
	"cardwise-api/internal/models"
	"cardwise-api/internal/service"
	"cardwise-api/internal/validation"
)

// StatusClientClosedRequest is the non-standard nginx code for a caller
// that went away before the response was written.
const StatusClientClosedRequest = 499

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      *slog.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 1 << 20
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		logger:      opts.Logger,
	}
}

// Register handles POST /auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, resp)
}

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// ListCards handles GET /cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parseIntParam(q.Get("page"), 1)
	perPage := parseIntParam(q.Get("per_page"), 0)

	resp, err := h.service.ListCards(r.Context(), q.Get("category"), q.Get("issuer"), page, perPage)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// SearchCards handles GET /cards/search
func (h *Handler) SearchCards(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	resp, err := h.service.SearchCards(r.Context(), query)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// GetCard handles GET /cards/{card_id}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "card_id")

	card, err := h.service.GetCard(r.Context(), cardID)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, card)
}

// GetProfile handles GET /user/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	resp, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// GetUserCards handles GET /user/cards
func (h *Handler) GetUserCards(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	owned, err := h.service.GetUserCards(r.Context(), userID)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, owned)
}

// AddUserCard handles POST /user/cards
func (h *Handler) AddUserCard(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req models.AddCardRequest
	if !h.decode(w, r, &req) {
		return
	}

	owned, err := h.service.AddUserCard(r.Context(), userID, req)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, owned)
}

// RemoveUserCard handles DELETE /user/cards/{card_id}
func (h *Handler) RemoveUserCard(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	cardID := chi.URLParam(r, "card_id")

	if err := h.service.RemoveUserCard(r.Context(), userID, cardID); err != nil {
		h.respondAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SubmitFeedback handles POST /feedback
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req models.FeedbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	fb, err := h.service.SubmitFeedback(r.Context(), userID, req)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, fb)
}

// SubmitMissingCard handles POST /missing-card
func (h *Handler) SubmitMissingCard(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req models.MissingCardSubmission
	if !h.decode(w, r, &req) {
		return
	}

	mcr, err := h.service.SubmitMissingCard(r.Context(), userID, req)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, mcr)
}

// Chat handles POST /chat
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req models.ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Chat(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, service.ErrAdvisorDisabled) {
			h.respondError(w, http.StatusServiceUnavailable, "advisor is not available")
			return
		}
		h.respondAppError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body with the size cap applied. It writes the
// error response itself and reports whether decoding succeeded.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// respondAppError translates a classified service error into an HTTP
// status. Unavailable errors get a generic body so storage details never
// leak to clients.
func (h *Handler) respondAppError(w http.ResponseWriter, err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidArgument:
		msg := err.Error()
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			msg = verr.Error()
		}
		h.respondError(w, http.StatusBadRequest, msg)
	case apperrors.KindUnauthorized:
		h.respondError(w, http.StatusUnauthorized, err.Error())
	case apperrors.KindNotFound:
		h.respondError(w, http.StatusNotFound, err.Error())
	case apperrors.KindConflict:
		h.respondError(w, http.StatusConflict, err.Error())
	case apperrors.KindCanceled:
		h.respondError(w, StatusClientClosedRequest, "request canceled")
	default:
		h.logger.Error("request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
