package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/send-money-agent/internal/transfer"
	"github.com/wolfman30/send-money-agent/pkg/logging"
)

const serviceName = "Send Money Agent"

// ChatService is the session and chat surface the HTTP handler drives.
type ChatService interface {
	CreateSession(ctx context.Context) (*Session, error)
	Chat(ctx context.Context, sessionID, message string) (*ChatResult, error)
	State(ctx context.Context, sessionID string) (transfer.State, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]string, error)
}

var _ ChatService = (*Agent)(nil)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SessionResponse is returned by POST /session/create.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// StateResponse is returned by GET /session/{id}/state.
type StateResponse struct {
	SessionID string         `json:"session_id"`
	State     transfer.State `json:"state"`
}

// SessionListResponse is returned by GET /sessions.
type SessionListResponse struct {
	Count    int      `json:"count"`
	Sessions []string `json:"sessions"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Handler wires HTTP requests to the chat service.
type Handler struct {
	service ChatService
	logger  *logging.Logger
}

// NewHandler creates a chat handler.
func NewHandler(service ChatService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
	})
}

// CreateSession handles POST /session/create.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.CreateSession(r.Context())
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, SessionResponse{
		SessionID: sess.ID,
		Message:   "Session created successfully",
	})
}

// Chat handles POST /chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode chat request", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		h.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.service.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		status, detail := chatErrorResponse(err)
		h.logger.Error("failed to process chat message",
			"session_id", req.SessionID,
			"status", status,
			"error", err,
		)
		h.writeError(w, status, detail)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetState handles GET /session/{sessionID}/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	state, err := h.service.State(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StateResponse{SessionID: id, State: state})
}

// DeleteSession handles DELETE /session/{sessionID}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.service.DeleteSession(r.Context(), id); err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ListSessions(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, SessionListResponse{Count: len(ids), Sessions: ids})
}

// chatErrorResponse maps the error taxonomy onto a status and user-facing detail.
func chatErrorResponse(err error) (int, string) {
	var llmErr *LLMError
	switch {
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests, "API quota exceeded. Please try again in a few moments or check your Google API quota limits."
	case errors.Is(err, ErrConfiguration):
		setting := APIKeySetting
		if errors.As(err, &llmErr) && llmErr.Setting != "" {
			setting = llmErr.Setting
		}
		return http.StatusUnauthorized, fmt.Sprintf("Invalid API key. Please check your %s environment variable.", setting)
	case errors.As(err, &llmErr):
		return http.StatusInternalServerError, llmErr.Cause()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (h *Handler) writeSessionError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		h.writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	h.logger.Error("session operation failed", "session_id", id, "error", err)
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, errorResponse{Detail: detail})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
