package onboarding

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ITDevS919/trustverify/internal/trust"
	"github.com/ITDevS919/trustverify/internal/validation"
)

// Handler provides HTTP endpoints for application operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new onboarding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up application routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/applications", h.SubmitApplication)
	r.GET("/applications/:id", h.GetApplication)
	r.GET("/applications/:id/checks", h.ListChecks)
	r.POST("/applications/:id/documents", h.AttachDocument)
	r.POST("/applications/:id/verify", h.RunVerification)
	r.POST("/applications/:id/cancel", h.CancelApplication)
	r.GET("/entities/:id/applications", h.ListByEntity)
}

// SubmitApplication handles POST /v1/applications
func (h *Handler) SubmitApplication(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("entityId", req.EntityID),
		validation.OneOf("customerType", req.CustomerType, "individual", "business"),
		validation.ValidEmail("email", req.Email),
		validation.ValidCountry("country", req.Country),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	app, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, trust.ErrEntityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Entity not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "submit_failed",
			"message": "Failed to create application",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"application": app})
}

// GetApplication handles GET /v1/applications/:id
func (h *Handler) GetApplication(c *gin.Context) {
	app, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Application not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": app})
}

// ListChecks handles GET /v1/applications/:id/checks
func (h *Handler) ListChecks(c *gin.Context) {
	cs, err := h.service.Checks(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Application not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"checks": cs,
		"count":  len(cs),
	})
}

// AttachDocument handles POST /v1/applications/:id/documents
func (h *Handler) AttachDocument(c *gin.Context) {
	var req struct {
		DocumentRef string `json:"documentRef" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "documentRef is required",
		})
		return
	}

	app, err := h.service.AttachDocument(c.Request.Context(), c.Param("id"), req.DocumentRef)
	if err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": app})
}

// RunVerification handles POST /v1/applications/:id/verify
func (h *Handler) RunVerification(c *gin.Context) {
	app, err := h.service.RunVerification(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": app})
}

// CancelApplication handles POST /v1/applications/:id/cancel
func (h *Handler) CancelApplication(c *gin.Context) {
	app, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": app})
}

// ListByEntity handles GET /v1/entities/:id/applications
func (h *Handler) ListByEntity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	apps, err := h.service.ListByEntity(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list applications",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applications": apps,
		"count":        len(apps),
	})
}

func respondLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrApplicationNotFound), errors.Is(err, trust.ErrEntityNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Application not found",
		})
	case errors.Is(err, ErrApplicationTerminal), errors.Is(err, ErrApplicationCancelled):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "state_conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrVerificationRunning):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "verification_running",
			"message": "Verification is already in progress",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}
