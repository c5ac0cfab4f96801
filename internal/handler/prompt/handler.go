package prompt

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/shopmate/backend/internal/model/prompt"
	"github.com/zhouzirui/shopmate/backend/pkg/utils"
)

// Handler 快捷提问的HTTP处理器
type Handler struct {
	prompts prompt.Store
}

// New 创建快捷提问处理器
func New(prompts prompt.Store) *Handler {
	return &Handler{prompts: prompts}
}

// RegisterRoutes 注册快捷提问相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/prompts", h.handleListPrompts)
	r.Get("/prompts/{promptID}", h.handleGetPrompt)
}

func (h *Handler) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.prompts.List())
}

func (h *Handler) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	item, ok := h.prompts.FindByID(chi.URLParam(r, "promptID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "prompt not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, item)
}
