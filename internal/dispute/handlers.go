package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ITDevS919/trustverify/internal/transactions"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.CreateDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.POST("/disputes/:id/evidence", h.SubmitEvidence)
	r.POST("/disputes/:id/analyze", h.AdvanceToAnalysis)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
	r.POST("/disputes/:id/resolve-manually", h.ResolveManually)
	r.POST("/disputes/:id/close", h.CloseDispute)
	r.GET("/transactions/:id/disputes", h.ListByTransaction)
}

// CreateDispute handles POST /v1/disputes
func (h *Handler) CreateDispute(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "transactionId, raisedBy and reason are required",
		})
		return
	}

	d, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondDisputeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// SubmitEvidence handles POST /v1/disputes/:id/evidence
func (h *Handler) SubmitEvidence(c *gin.Context) {
	var req struct {
		PartyID     string `json:"partyId" binding:"required"`
		Description string `json:"description" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "partyId and description are required",
		})
		return
	}

	d, err := h.service.SubmitEvidence(c.Request.Context(), c.Param("id"), req.PartyID, req.Description)
	if err != nil {
		respondDisputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// AdvanceToAnalysis handles POST /v1/disputes/:id/analyze
func (h *Handler) AdvanceToAnalysis(c *gin.Context) {
	d, err := h.service.AdvanceToAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDisputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveDispute handles POST /v1/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	d, err := h.service.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDisputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveManually handles POST /v1/disputes/:id/resolve-manually
func (h *Handler) ResolveManually(c *gin.Context) {
	var req struct {
		Outcome string `json:"outcome" binding:"required"`
		Note    string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome is required",
		})
		return
	}

	d, err := h.service.ResolveManually(c.Request.Context(), c.Param("id"), req.Outcome, req.Note)
	if err != nil {
		respondDisputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// CloseDispute handles POST /v1/disputes/:id/close
func (h *Handler) CloseDispute(c *gin.Context) {
	d, err := h.service.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDisputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ListByTransaction handles GET /v1/transactions/:id/disputes
func (h *Handler) ListByTransaction(c *gin.Context) {
	ds, err := h.service.ListByTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list disputes",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": ds,
		"count":    len(ds),
	})
}

func respondDisputeError(c *gin.Context, err error) {
	var vErr *ValidationError
	switch {
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found",
		})
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": vErr.Error(),
		})
	default:
		transactions.RespondTransitionError(c, err)
	}
}
