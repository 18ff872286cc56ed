package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ITDevS919/trustverify/internal/transactions"
	"github.com/ITDevS919/trustverify/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow", h.OpenEscrow)
	r.GET("/escrow/:id", h.GetEscrow)
	r.GET("/escrow/:id/provider-status", h.ProviderStatus)
	r.POST("/escrow/:id/fund", h.FundEscrow)
	r.POST("/escrow/:id/hold", h.HoldEscrow)
	r.POST("/escrow/:id/release", h.ReleaseEscrow)
	r.GET("/transactions/:id/escrow", h.GetByTransaction)
}

// OpenEscrow handles POST /v1/escrow
func (h *Handler) OpenEscrow(c *gin.Context) {
	var req struct {
		TransactionID string `json:"transactionId" binding:"required"`
		Provider      string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "transactionId is required",
		})
		return
	}
	if errs := validation.Validate(
		validation.OneOf("provider", req.Provider, "simulated", "stripe"),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	account, err := h.service.Open(c.Request.Context(), req.TransactionID, req.Provider)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow": account})
}

// GetEscrow handles GET /v1/escrow/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	account, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow account not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": account})
}

// ProviderStatus handles GET /v1/escrow/:id/provider-status
func (h *Handler) ProviderStatus(c *gin.Context) {
	state, err := h.service.ProviderStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providerStatus": state})
}

// FundEscrow handles POST /v1/escrow/:id/fund
func (h *Handler) FundEscrow(c *gin.Context) {
	account, err := h.service.Fund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": account})
}

// HoldEscrow handles POST /v1/escrow/:id/hold
func (h *Handler) HoldEscrow(c *gin.Context) {
	account, err := h.service.Hold(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": account})
}

// ReleaseEscrow handles POST /v1/escrow/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	account, err := h.service.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": account})
}

// GetByTransaction handles GET /v1/transactions/:id/escrow
func (h *Handler) GetByTransaction(c *gin.Context) {
	account, err := h.service.GetByTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No escrow account for transaction",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": account})
}

func respondEscrowError(c *gin.Context, err error) {
	var eligibility *EligibilityError
	switch {
	case errors.Is(err, ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow account not found",
		})
	case errors.As(err, &eligibility):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "not_eligible",
			"clause":  eligibility.Clause,
			"message": eligibility.Message,
		})
	default:
		transactions.RespondTransitionError(c, err)
	}
}
