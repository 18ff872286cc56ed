package webhooks

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ITDevS919/trustverify/internal/idgen"
	"github.com/ITDevS919/trustverify/internal/validation"
)

var knownEvents = map[EventType]bool{
	EventDecisionCompleted: true,
	EventEscrowFunded:      true,
	EventEscrowHeld:        true,
	EventEscrowReleased:    true,
	EventEscrowRefunded:    true,
	EventDisputeOpened:     true,
	EventDisputeResolved:   true,
}

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store Store
}

// NewHandler creates a new webhook handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/entities/:id/webhooks", h.CreateWebhook)
	r.GET("/entities/:id/webhooks", h.ListWebhooks)
	r.DELETE("/entities/:id/webhooks/:webhookId", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// CreateWebhook handles POST /v1/entities/:id/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	entityID := c.Param("id")

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("url", req.URL),
		validation.MaxLength("url", req.URL, 2048),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !knownEvents[et] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "unknown event type: " + e,
			})
			return
		}
		events = append(events, et)
	}

	secret := idgen.Hex(32)
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		EntityID:  entityID,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": gin.H{
			"id":        sub.ID,
			"url":       sub.URL,
			"events":    sub.Events,
			"active":    sub.Active,
			"createdAt": sub.CreatedAt,
		},
		"secret": secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Trustverify-Signature",
		},
	})
}

// ListWebhooks handles GET /v1/entities/:id/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.GetByEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}

	// Don't expose secrets
	webhooks := make([]gin.H, len(subs))
	for i, sub := range subs {
		webhooks[i] = gin.H{
			"id":          sub.ID,
			"url":         sub.URL,
			"events":      sub.Events,
			"active":      sub.Active,
			"createdAt":   sub.CreatedAt,
			"lastSuccess": sub.LastSuccess,
			"lastError":   sub.LastError,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": webhooks,
	})
}

// DeleteWebhook handles DELETE /v1/entities/:id/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("webhookId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}
