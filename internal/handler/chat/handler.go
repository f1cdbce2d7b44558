package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	modelchat "github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/internal/middleware"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/access"
	chatService "github.com/zhouzirui/climate-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/transcript"
	"github.com/zhouzirui/climate-assistant/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc    *chatService.Service
	conditions experiment.Store
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, conditions experiment.Store) *Handler {
	return &Handler{
		chatSvc:    chatSvc,
		conditions: conditions,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/check", h.handleAuthCheck)
	r.Post("/chat", h.handleTurn)
	r.Get("/history", h.handleHistory)
	r.Get("/export", h.handleExport)
}

// TurnPayload is the body of a chat turn. ConditionID takes precedence over
// the explicit selectors.
type TurnPayload struct {
	ConditionID string `json:"conditionId"`
	SocialCues  string `json:"socialCues"`
	Source      string `json:"source"`
	Tone        string `json:"tone"`
	DisplayName string `json:"displayName"`
	UserID      string `json:"userId"`
	Message     string `json:"message"`
}

// Request converts the payload into a service request.
func (p TurnPayload) Request(conditions experiment.Store, clientID string) (chatService.TurnRequest, error) {
	cfg, err := experiment.Resolve(conditions, p.ConditionID, experiment.Config{
		SocialCues: p.SocialCues,
		Source:     p.Source,
		Tone:       p.Tone,
	})
	if err != nil {
		return chatService.TurnRequest{}, err
	}
	return chatService.TurnRequest{
		ClientID:    clientID,
		Config:      cfg,
		DisplayName: p.DisplayName,
		UserID:      p.UserID,
		Message:     p.Message,
	}, nil
}

// PayloadFromQuery reads a turn payload from URL query parameters.
func PayloadFromQuery(r *http.Request) TurnPayload {
	q := r.URL.Query()
	return TurnPayload{
		ConditionID: q.Get("conditionId"),
		SocialCues:  q.Get("socialCues"),
		Source:      q.Get("source"),
		Tone:        q.Get("tone"),
		DisplayName: q.Get("displayName"),
		UserID:      q.Get("userId"),
		Message:     q.Get("message"),
	}
}

// handleAuthCheck 校验用户ID格式
func (h *Handler) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]bool{
		"authenticated": access.IsAuthenticated(payload.UserID),
	})
}

// handleTurn 处理一轮对话
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var payload TurnPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := payload.Request(h.conditions, middleware.ClientID(r.Context()))
	if err != nil {
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	result, err := h.chatSvc.Turn(r.Context(), req)
	if err != nil {
		status := StatusFor(err)
		if errors.Is(err, chatService.ErrAssistantUnavailable) {
			utils.RespondJSON(w, status, map[string]any{
				"error":   chatService.UserFacingError(err),
				"history": result.History,
			})
			return
		}
		utils.RespondError(w, status, chatService.UserFacingError(err))
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// handleHistory 返回会话历史
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	payload := PayloadFromQuery(r)
	req, err := payload.Request(h.conditions, middleware.ClientID(r.Context()))
	if err != nil {
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string][]modelchat.Message{
		"messages": h.chatSvc.History(req.ClientID, req.Config, req.DisplayName),
	})
}

// handleExport 下载会话记录
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	payload := PayloadFromQuery(r)
	req, err := payload.Request(h.conditions, middleware.ClientID(r.Context()))
	if err != nil {
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	format, err := transcript.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := h.chatSvc.Export(req.ClientID, req.Config, req.DisplayName, req.UserID, format)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.FileName()+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrAssistantUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, chatService.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrMessageRequired),
		errors.Is(err, chatService.ErrDisplayNameTooLong),
		errors.Is(err, chatService.ErrClientRequired),
		errors.Is(err, experiment.ErrConditionNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
