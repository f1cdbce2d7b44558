package stream

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	chatHandler "github.com/zhouzirui/climate-assistant/backend/internal/handler/chat"
	modelchat "github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/internal/middleware"
	chatService "github.com/zhouzirui/climate-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/climate-assistant/backend/pkg/utils"
)

// Handler runs chat turns over Server-Sent Events so the frontend can show a
// spinner between the start and message events.
type Handler struct {
	chatSvc    *chatService.Service
	conditions experiment.Store
	logger     zerolog.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, conditions experiment.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		chatSvc:    chatSvc,
		conditions: conditions,
		logger:     logger.With().Str("component", "stream").Logger(),
	}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.handleStream)
}

// StreamResponse represents one SSE payload
type StreamResponse struct {
	SessionID string              `json:"sessionId,omitempty"`
	Message   *modelchat.Message  `json:"message,omitempty"`
	History   []modelchat.Message `json:"history,omitempty"`
	Finished  bool                `json:"finished,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, err := chatHandler.PayloadFromQuery(r).Request(h.conditions, middleware.ClientID(r.Context()))
	if err != nil {
		utils.RespondError(w, chatHandler.StatusFor(err), err.Error())
		return
	}
	if req.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	if err := chatService.ValidateDisplayName(req.DisplayName); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	utils.SendSSEEvent(w, flusher, "start", StreamResponse{})

	result, err := h.chatSvc.Turn(r.Context(), req)
	if err != nil {
		h.logger.Warn().Err(err).Str("condition", req.Config.Code()).Msg("stream turn failed")
		payload := StreamResponse{Error: chatService.UserFacingError(err)}
		if errors.Is(err, chatService.ErrAssistantUnavailable) {
			payload.History = result.History
		}
		utils.SendSSEEvent(w, flusher, "error", payload)
		return
	}

	utils.SendSSEEvent(w, flusher, "message", StreamResponse{
		SessionID: result.Session.ID,
		Message:   &result.Answer,
	})
	utils.SendSSEEvent(w, flusher, "end", StreamResponse{
		SessionID: result.Session.ID,
		History:   result.History,
		Finished:  true,
	})

	h.logger.Debug().Str("session", result.Session.ID).Msg("completed stream turn")
}
