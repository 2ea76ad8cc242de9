// Package chat provides the widget facing chat module.
package chat

import (
	"github.com/kenxsak/voice-chat-ai-sub001/internal/chat/handler"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/chat/service"
	apphttp "github.com/kenxsak/voice-chat-ai-sub001/internal/http"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/media"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/validator"
)

// Module represents the chat module
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates the chat module. uploads may be nil.
func NewModule(deps service.Deps, uploads *media.Service, val *validator.Validator) *Module {
	svc := service.New(deps)
	var uploader handler.Uploader
	if uploads != nil {
		uploader = uploads
	}
	return &Module{
		handler: handler.New(svc, uploader, val),
		Service: svc,
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "chat"
}

// RegisterRoutes registers the module's routes under /api/v1/chat
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Widget.Group("/chat"))
}

var _ apphttp.Module = (*Module)(nil)
