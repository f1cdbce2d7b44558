package condition

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/pkg/utils"
)

// Handler 实验条件的HTTP处理器
type Handler struct {
	conditions experiment.Store
}

// New 创建实验条件处理器
func New(conditions experiment.Store) *Handler {
	return &Handler{
		conditions: conditions,
	}
}

// RegisterRoutes 注册实验条件相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conditions", h.handleListConditions)
	r.Get("/conditions/{conditionID}", h.handleGetCondition)
}

// handleListConditions 列出所有实验条件
func (h *Handler) handleListConditions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.conditions.List())
}

func (h *Handler) handleGetCondition(w http.ResponseWriter, r *http.Request) {
	condition, ok := h.conditions.FindByID(chi.URLParam(r, "conditionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "condition not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, condition)
}
