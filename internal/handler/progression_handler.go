package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/service"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
	"github.com/mentorlink/mentorlink-api/pkg/response"
)

// ProgressionHandler exposes teacher standing and tier administration.
type ProgressionHandler struct {
	service *service.ProgressionService
}

// NewProgressionHandler constructs a progression handler.
func NewProgressionHandler(svc *service.ProgressionService) *ProgressionHandler {
	return &ProgressionHandler{service: svc}
}

// ToggleTierRequest explicitly sets a teacher's tier on a topic.
type ToggleTierRequest struct {
	Tier models.Tier `json:"tier" binding:"required"`
}

// Standing godoc
// @Summary Teacher standing on a topic
// @Tags Progression
// @Produce json
// @Param id path string true "Teacher ID"
// @Param topic path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /teachers/{id}/topics/{topic}/standing [get]
func (h *ProgressionHandler) Standing(c *gin.Context) {
	stat, err := h.service.Standing(c.Request.Context(), c.Param("id"), c.Param("topic"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stat, nil)
}

// Evaluate godoc
// @Summary Recompute teacher standing
// @Description Recompute tier and level from accumulated stats; idempotent
// @Tags Progression
// @Produce json
// @Param id path string true "Teacher ID"
// @Param topic path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/topics/{topic}/standing [post]
func (h *ProgressionHandler) Evaluate(c *gin.Context) {
	stat, err := h.service.Evaluate(c.Request.Context(), c.Param("id"), c.Param("topic"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if stat == nil {
		response.JSON(c, http.StatusOK, gin.H{"evaluated": false}, nil)
		return
	}
	response.JSON(c, http.StatusOK, stat, nil)
}

// ToggleTier godoc
// @Summary Set teacher tier
// @Description Explicitly set a teacher's tier on a topic; the only path that lowers a tier
// @Tags Progression
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param topic path string true "Topic ID"
// @Param payload body handler.ToggleTierRequest true "Tier payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /teachers/{id}/topics/{topic}/tier [put]
func (h *ProgressionHandler) ToggleTier(c *gin.Context) {
	var req ToggleTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid tier payload"))
		return
	}

	if err := h.service.ToggleTier(c.Request.Context(), c.Param("id"), c.Param("topic"), req.Tier); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
