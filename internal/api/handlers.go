package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/comigor/triage-go/internal/apperr"
	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/triage"
)

// Service is the part of the triage engine the HTTP layer uses.
type Service interface {
	SubmitMessage(ctx context.Context, conversationID, content string) (*conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, error)
	QueueOverview(ctx context.Context) (*triage.QueueOverview, error)
}

type submitMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content" binding:"required,min=1,max=2000"`
}

type listQuery struct {
	Status     string `form:"status"`
	Department string `form:"department"`
	Limit      int    `form:"limit" binding:"omitempty,min=0,max=500"`
}

type handler struct {
	svc Service
}

func (h *handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Customer triage API",
		"health":  "/health",
	})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *handler) submitMessage(c *gin.Context) {
	var req submitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, apperr.NewValidationError("Invalid request body", err.Error()))
		return
	}

	conv, err := h.svc.SubmitMessage(c.Request.Context(), req.ConversationID, req.Content)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handler) getConversation(c *gin.Context) {
	conv, err := h.svc.GetConversation(c.Request.Context(), c.Param("conversationId"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handler) listConversations(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		errorResponse(c, apperr.NewValidationError("Invalid query", err.Error()))
		return
	}

	filter := conversation.ListFilter{Limit: q.Limit}
	if q.Status != "" {
		s, err := conversation.ParseStatus(q.Status)
		if err != nil {
			errorResponse(c, apperr.NewBadRequestError("Invalid status", "status must be one of "+oneOf(conversation.Statuses)))
			return
		}
		filter.Status = &s
	}
	if q.Department != "" {
		d, err := conversation.ParseDepartment(q.Department)
		if err != nil {
			errorResponse(c, apperr.NewBadRequestError("Invalid department", "department must be one of "+oneOf(conversation.Departments)))
			return
		}
		filter.Department = &d
	}

	convs, err := h.svc.ListConversations(c.Request.Context(), filter)
	if err != nil {
		errorResponse(c, err)
		return
	}
	if convs == nil {
		convs = []*conversation.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *handler) queues(c *gin.Context) {
	ov, err := h.svc.QueueOverview(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func oneOf[T ~string](values []T) string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}
