package handler

import (
	"context"
	"io"
	"net/http"

	chatservice "github.com/kenxsak/voice-chat-ai-sub001/internal/chat/service"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/chat/transport"
	convservice "github.com/kenxsak/voice-chat-ai-sub001/internal/conversations/service"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/media"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/httpkit"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgAgentForbidden   = "agent not allowed for this widget"
)

type Chat interface {
	RecordTurn(ctx context.Context, in chatservice.TurnInput) (chatservice.TurnResult, error)
	EndSession(ctx context.Context, scope chatservice.Scope, conversationID uuid.UUID) (convservice.CloseResult, error)
	Unload(ctx context.Context, scope chatservice.Scope, conversationID uuid.UUID) (chatservice.UnloadResult, error)
}

type Uploader interface {
	UploadChatImage(ctx context.Context, tenantID, sessionID, contentType string, r io.Reader, size int64) (media.Upload, error)
	MaxFileSize() int64
}

// Handler serves the widget facing chat endpoints.
type Handler struct {
	chat     Chat
	uploader Uploader
	val      *validator.Validator
}

// New creates a chat handler. uploader may be nil when object storage is
// not configured.
func New(chat Chat, uploader Uploader, val *validator.Validator) *Handler {
	return &Handler{chat: chat, uploader: uploader, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/turns", h.RecordTurn)
	rg.POST("/conversations/:id/close", h.Close)
	rg.POST("/unload", h.Unload)
	if h.uploader != nil {
		rg.POST("/media", h.UploadMedia)
	}
}

// RecordTurn handles POST /api/v1/chat/turns
func (h *Handler) RecordTurn(c *gin.Context) {
	var req transport.RecordTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}
	if !httpkit.AgentAllowed(c, req.AgentID) {
		httpkit.Error(c, http.StatusForbidden, msgAgentForbidden, nil)
		return
	}
	httpkit.SetSessionID(c, req.SessionID)

	in := chatservice.TurnInput{
		TenantID:     tenantID,
		SessionID:    req.SessionID,
		AgentID:      req.AgentID,
		IPAddress:    c.ClientIP(),
		Message:      req.Message,
		Reply:        req.Reply,
		ImageURL:     req.ImageURL,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
	}
	if req.Contact != nil {
		in.Contact = contact.Fields{Name: req.Contact.Name, Email: req.Contact.Email, Phone: req.Contact.Phone}
	}

	result, err := h.chat.RecordTurn(c.Request.Context(), in)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.RecordTurnResponse{
		ConversationID: result.ConversationID,
		CustomerID:     result.CustomerID,
		LeadID:         result.LeadID,
	})
}

// Close handles POST /api/v1/chat/conversations/:id/close
func (h *Handler) Close(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid conversation id", nil)
		return
	}
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	result, err := h.chat.EndSession(c.Request.Context(), widgetScope(c, tenantID), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, toCloseResponse(result))
}

// Unload handles POST /api/v1/chat/unload
func (h *Handler) Unload(c *gin.Context) {
	var req transport.UnloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	result, err := h.chat.Unload(c.Request.Context(), widgetScope(c, tenantID), req.ConversationID)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.UnloadResponse{ConversationID: result.ConversationID, Queued: result.Queued}
	if result.Close != nil {
		closed := toCloseResponse(*result.Close)
		resp.Close = &closed
	}
	httpkit.JSON(c, http.StatusAccepted, resp)
}

// UploadMedia handles POST /api/v1/chat/media
func (h *Handler) UploadMedia(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	sessionID := c.PostForm("sessionId")
	if err := h.val.Var(sessionID, "required,opaqueid"); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, "sessionId is required")
		return
	}
	httpkit.SetSessionID(c, sessionID)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploader.MaxFileSize()+1<<20)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "file is required", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	defer file.Close()

	upload, err := h.uploader.UploadChatImage(c.Request.Context(), tenantID, sessionID,
		fileHeader.Header.Get("Content-Type"), file, fileHeader.Size)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, transport.MediaUploadResponse{
		URL:       upload.URL,
		FileKey:   upload.FileKey,
		ExpiresAt: upload.ExpiresAt,
	})
}

func widgetScope(c *gin.Context, tenantID string) chatservice.Scope {
	return chatservice.Scope{TenantID: tenantID, Agents: httpkit.AllowedAgents(c)}
}

func toCloseResponse(r convservice.CloseResult) transport.CloseConversationResp {
	return transport.CloseConversationResp{
		ConversationID:    r.ConversationID,
		CustomerName:      r.CustomerName,
		CustomerEmail:     r.CustomerEmail,
		CustomerPhone:     r.CustomerPhone,
		Summary:           r.Summary,
		ProblemsDiscussed: r.ProblemsDiscussed,
		SolutionsProvided: r.SolutionsProvided,
		SuggestionsGiven:  r.SuggestionsGiven,
		CustomerID:        r.CustomerID,
		LeadID:            r.LeadID,
		AlreadyClosed:     r.AlreadyClosed,
		Degraded:          r.Degraded,
	}
}
