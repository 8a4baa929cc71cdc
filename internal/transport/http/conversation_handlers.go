package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/newleaf-app/newleaf-rtc/internal/store"
)

// ConversationHandlers provides HTTP handlers for conversation endpoints.
// Conversations are the durable counterpart of realtime rooms: the
// conversation ID handed out here is the room id clients join over the
// websocket.
type ConversationHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewConversationHandlers creates a new conversation handlers instance.
func NewConversationHandlers(st store.Store, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{
		store: st,
		log:   logger,
	}
}

// CreateGroupRequest represents the group conversation request body.
type CreateGroupRequest struct {
	Name    string   `json:"name" binding:"required,min=1,max=64"`
	Members []string `json:"members"`
}

// CreateDirectRequest represents the direct conversation request body.
type CreateDirectRequest struct {
	Peer string `json:"peer" binding:"required"`
}

// ConversationResponse represents a conversation in API responses.
type ConversationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// MessageResponse represents a persisted message in API responses.
type MessageResponse struct {
	ID          int64  `json:"id"`
	Sender      string `json:"sender"`
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
	CreatedAt   string `json:"created_at"`
}

// ListConversations lists conversations the caller is a member of.
// GET /api/conversations
func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	convs, err := h.store.ListConversations(c.Request.Context(), identity)
	if err != nil {
		h.log.Error().Err(err).Str("identity", identity).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, toConversationResponse(conv))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// CreateGroup creates a group conversation. The caller is always a member.
// POST /api/conversations/group
func (h *ConversationHandlers) CreateGroup(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	members := append([]string{identity}, req.Members...)
	conv, err := h.store.CreateGroup(c.Request.Context(), req.Name, members)
	if err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("failed to create group conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("conversation_id", conv.ID).Str("creator", identity).Msg("group conversation created")
	c.JSON(http.StatusCreated, toConversationResponse(conv))
}

// CreateDirect returns the direct conversation between the caller and a
// peer, creating it on first use.
// POST /api/conversations/direct
func (h *ConversationHandlers) CreateDirect(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Peer == identity {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot create a conversation with yourself"})
		return
	}

	conv, err := h.store.CreateDirect(c.Request.Context(), identity, req.Peer)
	if err != nil {
		h.log.Error().Err(err).Str("peer", req.Peer).Msg("failed to create direct conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, toConversationResponse(conv))
}

// History returns persisted messages of a conversation, newest first.
// Supports cursor pagination via ?before=<message id>&limit=<n>.
// GET /api/conversations/:id/messages
func (h *ConversationHandlers) History(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	convID := c.Param("id")
	if _, err := h.store.GetConversation(c.Request.Context(), convID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
			return
		}
		h.log.Error().Err(err).Str("conversation_id", convID).Msg("failed to load conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	member, err := h.store.IsMember(c.Request.Context(), convID, identity)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", convID).Msg("failed to check membership")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this conversation"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var beforeID *int64
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before cursor"})
			return
		}
		beforeID = &n
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), convID, limit, beforeID)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", convID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, MessageResponse{
			ID:          msg.ID,
			Sender:      msg.Sender,
			Body:        msg.Body,
			ContentType: msg.ContentType,
			CreatedAt:   msg.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func toConversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:   conv.ID,
		Name: conv.Name,
		Type: string(conv.Type),
	}
}
