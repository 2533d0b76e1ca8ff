package handler

import (
	"net/http"

	"meshly/internal/domain/message"
	"meshly/internal/domain/user"
	"meshly/internal/services"
	"meshly/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MessageHandler struct {
	service *services.MessageService
	users   *services.UserService
}

func NewMessageHandler(service *services.MessageService, users *services.UserService) *MessageHandler {
	return &MessageHandler{service: service, users: users}
}

// senders resolves the distinct sender profiles for a batch of messages.
// On failure it writes the error response and reports false.
func (h *MessageHandler) senders(c *gin.Context, msgs ...message.Message) (map[uuid.UUID]user.User, bool) {
	resolved := map[uuid.UUID]user.User{}
	if h.users == nil || len(msgs) == 0 {
		return resolved, true
	}

	seen := map[uuid.UUID]bool{}
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		if seen[m.SenderID] {
			continue
		}
		seen[m.SenderID] = true
		ids = append(ids, m.SenderID)
	}

	profiles, err := h.users.GetByIDs(c.Request.Context(), ids)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	for _, u := range profiles {
		resolved[u.ID] = u
	}
	return resolved, true
}

func (h *MessageHandler) Send(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation id", "INVALID_REQUEST"))
		return
	}

	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	if req.Type == "" {
		req.Type = "TEXT"
	}

	replyTo := uuid.NullUUID{}
	if req.ReplyToMessageID != "" {
		id, err := parseUUID(req.ReplyToMessageID)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid reply_to_message_id", "INVALID_REQUEST"))
			return
		}
		replyTo = uuid.NullUUID{UUID: id, Valid: true}
	}

	attachments := make([]services.AttachmentInput, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, services.AttachmentInput{
			Kind: a.Kind,
			URL:  a.URL,
			Name: a.Name,
			Size: a.Size,
		})
	}

	msg, err := h.service.Send(c.Request.Context(), services.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Type:           req.Type,
		Content:        req.Content,
		ReplyToMsgID:   replyTo,
		Attachments:    attachments,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	senders, ok := h.senders(c, msg)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromMessageResolved(msg, senders)))
}

func (h *MessageHandler) List(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation id", "INVALID_REQUEST"))
		return
	}
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	page, limit, err := pageParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid pagination", "INVALID_REQUEST"))
		return
	}

	items, total, err := h.service.FetchPage(c.Request.Context(), conversationID, userID, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	senders, ok := h.senders(c, items...)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MessageListResponse{
		Messages: httpdto.FromMessagesResolved(items, senders),
		Total:    total,
		Page:     page,
		Limit:    limit,
	}))
}

func (h *MessageHandler) MarkConversationRead(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation id", "INVALID_REQUEST"))
		return
	}
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	if err := h.service.MarkConversationRead(c.Request.Context(), conversationID, userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *MessageHandler) GetByID(c *gin.Context) {
	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid message id", "INVALID_REQUEST"))
		return
	}
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	msg, err := h.service.GetByID(c.Request.Context(), messageID, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	senders, ok := h.senders(c, msg)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromMessageResolved(msg, senders)))
}

func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid message id", "INVALID_REQUEST"))
		return
	}

	var req httpdto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	msg, err := h.service.Edit(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}

	senders, ok := h.senders(c, msg)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromMessageResolved(msg, senders)))
}

func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid message id", "INVALID_REQUEST"))
		return
	}
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), messageID, userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid message id", "INVALID_REQUEST"))
		return
	}
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	if err := h.service.MarkDelivered(c.Request.Context(), messageID, userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *MessageHandler) Receipts(c *gin.Context) {
	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid message id", "INVALID_REQUEST"))
		return
	}
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	receipts, err := h.service.Receipts(c.Request.Context(), messageID, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"receipts": httpdto.FromReceipts(receipts)}))
}

func (h *MessageHandler) Search(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	pattern := c.Query("query")
	conversationID := uuid.NullUUID{}
	if raw := c.Query("conversation_id"); raw != "" {
		id, err := parseUUID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation_id", "INVALID_REQUEST"))
			return
		}
		conversationID = uuid.NullUUID{UUID: id, Valid: true}
	}

	page, limit, err := pageParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid pagination", "INVALID_REQUEST"))
		return
	}

	items, total, err := h.service.Search(c.Request.Context(), userID, pattern, conversationID, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	senders, ok := h.senders(c, items...)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MessageListResponse{
		Messages: httpdto.FromMessagesResolved(items, senders),
		Total:    total,
		Page:     page,
		Limit:    limit,
	}))
}
