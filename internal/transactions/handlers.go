package transactions

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ITDevS919/trustverify/internal/trust"
	"github.com/ITDevS919/trustverify/internal/validation"
)

// EventEmitter broadcasts transaction events to realtime subscribers.
type EventEmitter interface {
	EmitTransaction(tx *Transaction)
}

// Handler provides HTTP endpoints for transaction operations.
type Handler struct {
	service *Service
	events  EventEmitter
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds realtime event broadcasting.
func (h *Handler) WithEvents(e EventEmitter) *Handler {
	h.events = e
	return h
}

// RegisterRoutes sets up transaction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.CreateTransaction)
	r.GET("/transactions/:id", h.GetTransaction)
	r.POST("/transactions/:id/complete", h.CompleteTransaction)
	r.GET("/entities/:id/transactions", h.ListByEntity)
}

// CreateTransaction handles POST /v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("buyerId", req.BuyerID),
		validation.Required("sellerId", req.SellerID),
		validation.PositiveAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, trust.ErrEntityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Buyer or seller entity not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create transaction",
		})
		return
	}

	if h.events != nil {
		h.events.EmitTransaction(tx)
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// CompleteTransaction handles POST /v1/transactions/:id/complete
func (h *Handler) CompleteTransaction(c *gin.Context) {
	tx, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondTransitionError(c, err)
		return
	}

	if h.events != nil {
		h.events.EmitTransaction(tx)
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ListByEntity handles GET /v1/entities/:id/transactions
func (h *Handler) ListByEntity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	cursor := c.Query("cursor")

	txs, next, err := h.service.ListByEntity(c.Request.Context(), c.Param("id"), limit, cursor)
	if err != nil {
		if strings.Contains(err.Error(), "invalid cursor") {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Invalid pagination cursor",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list transactions",
		})
		return
	}

	resp := gin.H{
		"transactions": txs,
		"count":        len(txs),
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// RespondTransitionError maps lifecycle errors onto HTTP responses. Shared
// with the escrow and dispute handlers, which surface the same conflict
// shape.
func RespondTransitionError(c *gin.Context, err error) {
	var conflict *StateConflictError
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "state_conflict",
			"message": conflict.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}
