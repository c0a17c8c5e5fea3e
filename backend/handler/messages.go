package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantly/portal/backend/middleware"
	"github.com/tenantly/portal/backend/pkg/apperr"
	"github.com/tenantly/portal/backend/pkg/logger"
	"github.com/tenantly/portal/backend/service"
)

type MessageHandler struct {
	chat      *service.ChatService
	heartbeat time.Duration
}

func NewMessageHandler(chat *service.ChatService, heartbeat time.Duration) *MessageHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &MessageHandler{chat: chat, heartbeat: heartbeat}
}

type SendMessageRequest struct {
	ReceiverID uint   `json:"receiver_id" form:"receiver_id" binding:"required"`
	Content    string `json:"content" form:"content"`
}

// Send stores a message. Multipart requests may carry a "file" part.
func (h *MessageHandler) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBind(&req); err != nil {
		apperr.Respond(c, apperr.NewValidationError("Invalid request", err.Error()))
		return
	}

	in := service.SendInput{
		SenderID:   middleware.GetUserID(c),
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
	}

	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		fh, err := c.FormFile("file")
		switch {
		case err == nil:
			f, err := readFormFile(fh, service.MaxChatFileBytes)
			if err != nil {
				apperr.Respond(c, apperr.NewValidationError("Failed to read attachment", fh.Filename))
				return
			}
			in.File = &f
		case !errors.Is(err, http.ErrMissingFile):
			apperr.Respond(c, apperr.NewValidationError("Invalid attachment", err.Error()))
			return
		}
	}

	msg, err := h.chat.Send(c.Request.Context(), in)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// Conversation returns messages exchanged with :userId, oldest first. Clients
// poll with ?after=<last seen id>.
func (h *MessageHandler) Conversation(c *gin.Context) {
	otherID, err := pathID(c, "userId")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	after, err := queryUint(c, "after")
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	limit, err := queryUint(c, "limit")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	msgs, err := h.chat.Conversation(c.Request.Context(), middleware.GetUserID(c), otherID, after, int(limit))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead flags every message from :userId to the caller as read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	otherID, err := pathID(c, "userId")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	n, err := h.chat.MarkRead(c.Request.Context(), middleware.GetUserID(c), otherID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (h *MessageHandler) Unread(c *gin.Context) {
	n, err := h.chat.Unread(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// Stream pushes incoming messages as server-sent events until the client
// disconnects.
func (h *MessageHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	msgs, cancel := h.chat.Subscribe(userID)
	defer cancel()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"user_id": userID})
	c.Writer.Flush()

	logger.Debug(ctx, "chat stream opened")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			c.SSEvent("message", msg)
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", t.Unix())
			return true
		}
	})
	logger.Debug(ctx, "chat stream closed")
}

func queryUint(c *gin.Context, name string) (uint, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, apperr.NewValidationError("Invalid "+name, raw)
	}
	return uint(v), nil
}
