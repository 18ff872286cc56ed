package trust

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ITDevS919/trustverify/internal/idgen"
	"github.com/ITDevS919/trustverify/internal/validation"
)

// Handler provides HTTP endpoints for entity and trust score operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new trust handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up entity routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/entities", h.RegisterEntity)
	r.GET("/entities/:id", h.GetEntity)
	r.POST("/entities/:id/score", h.ScoreEntity)
	r.GET("/entities/:id/fast-track", h.FastTrack)
}

// RegisterEntityRequest is the body for POST /v1/entities.
type RegisterEntityRequest struct {
	Kind        string `json:"kind" binding:"required"`
	DisplayName string `json:"displayName"`
}

// RegisterEntity handles POST /v1/entities
func (h *Handler) RegisterEntity(c *gin.Context) {
	var req RegisterEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("kind", req.Kind),
		validation.OneOf("kind", req.Kind, "individual", "business"),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	entity := &Entity{
		ID:          idgen.WithPrefix("ent_"),
		Kind:        req.Kind,
		DisplayName: validation.SanitizeString(req.DisplayName, 200),
	}
	if err := h.service.RegisterEntity(c.Request.Context(), entity); err != nil {
		if errors.Is(err, ErrEntityExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_exists",
				"message": "Entity already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "register_failed",
			"message": "Failed to register entity",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"entity": entity})
}

// GetEntity handles GET /v1/entities/:id
func (h *Handler) GetEntity(c *gin.Context) {
	entity, err := h.service.GetEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Entity not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": entity})
}

// ScoreEntityRequest carries optional per-request scoring context.
type ScoreEntityRequest struct {
	TransactionAmount    float64  `json:"transactionAmount"`
	PaymentMethod        string   `json:"paymentMethod"`
	DomainReputation     *float64 `json:"domainReputation"`
	DeviceFingerprint    *float64 `json:"deviceFingerprint"`
	Geolocation          *float64 `json:"geolocation"`
	CommunicationPattern *float64 `json:"communicationPattern"`
	UrgencySignals       *float64 `json:"urgencySignals"`
}

// ScoreEntity handles POST /v1/entities/:id/score
func (h *Handler) ScoreEntity(c *gin.Context) {
	var req ScoreEntityRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	assessment, err := h.service.ScoreEntity(c.Request.Context(), c.Param("id"), FactorContext{
		TransactionAmount:    req.TransactionAmount,
		PaymentMethod:        req.PaymentMethod,
		DomainReputation:     req.DomainReputation,
		DeviceFingerprint:    req.DeviceFingerprint,
		Geolocation:          req.Geolocation,
		CommunicationPattern: req.CommunicationPattern,
		UrgencySignals:       req.UrgencySignals,
	})
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Entity not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "score_failed",
			"message": "Failed to compute trust score",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assessment": assessment})
}

// FastTrack handles GET /v1/entities/:id/fast-track
func (h *Handler) FastTrack(c *gin.Context) {
	entity, err := h.service.GetEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Entity not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entityId":   entity.ID,
		"eligible":   entity.FastTrackEligible(),
		"trustScore": entity.TrustScore,
	})
}
