package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brightpath/brightpath-backend/internal/middleware"
	"github.com/brightpath/brightpath-backend/internal/platform/apierr"
	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/repos"
	"github.com/brightpath/brightpath-backend/internal/types"
)

type ConversationHandler struct {
	log      *logger.Logger
	convRepo repos.ConversationRepo
	msgRepo  repos.MessageRepo
}

func NewConversationHandler(convRepo repos.ConversationRepo, msgRepo repos.MessageRepo, baseLog *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		log:      baseLog.With("handler", "ConversationHandler"),
		convRepo: convRepo,
		msgRepo:  msgRepo,
	}
}

// GET /api/conversations
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user identity"))
		return
	}
	conversations, err := h.convRepo.ListByUser(c.Request.Context(), nil, userID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_conversations_failed", err)
		return
	}
	RespondOK(c, gin.H{"conversations": conversations})
}

type messageWithRefs struct {
	*types.Message
	References []*types.MessageReference `json:"references,omitempty"`
}

// GET /api/conversations/:id/messages
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user identity"))
		return
	}
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	conv, err := h.convRepo.GetByID(c.Request.Context(), nil, conversationID)
	if err != nil {
		RespondServiceError(c, apierr.New(http.StatusNotFound, "conversation_not_found", err))
		return
	}
	if conv.UserID != userID {
		RespondServiceError(c, apierr.New(http.StatusForbidden, "forbidden", fmt.Errorf("conversation belongs to another user")))
		return
	}

	messages, err := h.msgRepo.ListByConversation(c.Request.Context(), nil, conversationID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_messages_failed", err)
		return
	}
	out := make([]messageWithRefs, 0, len(messages))
	for _, msg := range messages {
		item := messageWithRefs{Message: msg}
		if msg.Role == types.RoleAssistant {
			refs, rerr := h.msgRepo.ListReferencesByMessage(c.Request.Context(), nil, msg.ID)
			if rerr != nil {
				RespondError(c, http.StatusInternalServerError, "list_messages_failed", rerr)
				return
			}
			item.References = refs
		}
		out = append(out, item)
	}
	RespondOK(c, gin.H{"conversation": conv, "messages": out})
}
