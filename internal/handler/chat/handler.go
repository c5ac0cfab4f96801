package chat

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	"github.com/zhouzirui/shopmate/backend/internal/model/product"
	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
	"github.com/zhouzirui/shopmate/backend/internal/service/assistant"
	"github.com/zhouzirui/shopmate/backend/internal/service/attachment"
	chatService "github.com/zhouzirui/shopmate/backend/internal/service/chat"
	"github.com/zhouzirui/shopmate/backend/internal/service/composer"
	"github.com/zhouzirui/shopmate/backend/pkg/utils"
)

const maxFormMemory = attachment.MaxImageBytes + 1<<20

// SessionDirectory 列出并创建聊天会话
type SessionDirectory interface {
	ListSessions(ctx context.Context) ([]chat.Session, error)
	CreateSession(ctx context.Context) (chat.Session, error)
}

// ProductResolver 解析助手消息引用的商品
type ProductResolver interface {
	ResolveMessage(ctx context.Context, msg chat.Message) []product.Summary
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	sessions SessionDirectory
	resolver ProductResolver
	log      logrus.FieldLogger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, sessions SessionDirectory, resolver ProductResolver, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		chatSvc:  chatSvc,
		sessions: sessions,
		resolver: resolver,
		log:      logger.WithField("component", "chat-handler"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Delete("/sessions/{sessionID}", h.handleCloseSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSubmit)
	r.Get("/sessions/{sessionID}/messages/{messageID}/products", h.handleProducts)
}

type messagesResponse struct {
	SessionID string            `json:"sessionId"`
	State     chatService.State `json:"state"`
	Messages  []chat.Message    `json:"messages"`
}

type productsResponse struct {
	MessageID  string            `json:"messageId"`
	ProductIDs []string          `json:"productIds"`
	Products   []product.Summary `json:"products"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListSessions(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleCreateSession 创建会话并打开对应的对话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.CreateSession(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if _, err := h.chatSvc.Open(r.Context(), session.ID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.Close(chi.URLParam(r, "sessionID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	thread, err := h.chatSvc.Open(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messagesResponse{
		SessionID: thread.ID(),
		State:     thread.State(),
		Messages:  thread.Messages(),
	})
}

// handleSubmit 接收文本或图片消息，异步发送给助手
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	text, image, err := readSubmission(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	thread, err := h.chatSvc.Open(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	// 请求结束后助手调用仍需继续；被拒绝的输入不会留在草稿里。
	done, err := thread.Composer.SubmitDraft(context.WithoutCancel(r.Context()), text, image)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if done == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": string(chatService.StatePending)})
}

func (h *Handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	thread, err := h.chatSvc.Open(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	messageID := chi.URLParam(r, "messageID")
	msg, ok := thread.Message(messageID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "message not found")
		return
	}

	resp := productsResponse{
		MessageID:  msg.ID,
		ProductIDs: msg.ReferencedProductIDs,
		Products:   []product.Summary{},
	}
	if msg.HasProducts() && h.resolver != nil {
		if products := h.resolver.ResolveMessage(r.Context(), msg); products != nil {
			resp.Products = products
		}
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var te *assistant.TransportError
	switch {
	case errors.Is(err, attachment.ErrInvalidFileType),
		errors.Is(err, attachment.ErrFileTooLarge),
		errors.Is(err, attachment.ErrEmptyFile),
		errors.Is(err, chatService.ErrSessionRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, composer.ErrSubmitPending):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrConversationClosed):
		utils.RespondError(w, http.StatusGone, err.Error())
	case errors.As(err, &te):
		h.log.WithError(err).Warn("assistant backend request failed")
		utils.RespondError(w, http.StatusBadGateway, assistant.UserMessage(err))
	default:
		h.log.WithError(err).Error("chat request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

// readSubmission 解析 JSON {"message"} 或 multipart（image + message）请求体
func readSubmission(r *http.Request) (string, *upload.File, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var payload struct {
			Message string `json:"message"`
		}
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&payload); err != nil {
			return "", nil, errors.New("invalid request body")
		}
		return payload.Message, nil, nil
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return "", nil, errors.New("invalid multipart body")
	}
	text := r.FormValue("message")

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return text, nil, nil
	}
	if err != nil {
		return "", nil, errors.New("invalid image part")
	}
	defer file.Close()

	// 多读一个字节，让校验器识别超限文件。
	data, err := io.ReadAll(io.LimitReader(file, attachment.MaxImageBytes+1))
	if err != nil {
		return "", nil, errors.New("could not read image")
	}
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "application/octet-stream" {
		// 未声明具体类型时交给校验器按内容识别。
		contentType = ""
	}
	return text, &upload.File{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}
