package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mentorlink/mentorlink-api/internal/service"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
	"github.com/mentorlink/mentorlink-api/pkg/response"
)

// CatalogueHandler serves the topic tree.
type CatalogueHandler struct {
	service *service.CatalogueService
}

// NewCatalogueHandler constructs a catalogue handler.
func NewCatalogueHandler(svc *service.CatalogueService) *CatalogueHandler {
	return &CatalogueHandler{service: svc}
}

// Create godoc
// @Summary Create topic
// @Description Add a node to the catalogue tree; admin only
// @Tags Catalogue
// @Accept json
// @Produce json
// @Param payload body service.CreateTopicRequest true "Topic payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /topics [post]
func (h *CatalogueHandler) Create(c *gin.Context) {
	var req service.CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid topic payload"))
		return
	}

	topic, err := h.service.CreateTopic(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, topic)
}

// Get godoc
// @Summary Get topic
// @Tags Catalogue
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /topics/{id} [get]
func (h *CatalogueHandler) Get(c *gin.Context) {
	topic, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic, nil)
}

// Children godoc
// @Summary List child topics
// @Tags Catalogue
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Router /topics/{id}/children [get]
func (h *CatalogueHandler) Children(c *gin.Context) {
	topics, err := h.service.ListChildren(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topics, nil)
}

// Domain godoc
// @Summary Resolve topic domain
// @Description Walk the parent chain to the topic's domain ancestor
// @Tags Catalogue
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /topics/{id}/domain [get]
func (h *CatalogueHandler) Domain(c *gin.Context) {
	domain, err := h.service.ResolveDomain(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if domain == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "topic has no domain ancestor"))
		return
	}
	response.JSON(c, http.StatusOK, domain, nil)
}
