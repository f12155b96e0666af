package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/service"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
	"github.com/mentorlink/mentorlink-api/pkg/export"
	"github.com/mentorlink/mentorlink-api/pkg/response"
)

// AvailabilityHandler exposes window management and the availability chart.
type AvailabilityHandler struct {
	service *service.AvailabilityService
	pdf     *export.PDFExporter
}

// NewAvailabilityHandler constructs an availability handler.
func NewAvailabilityHandler(svc *service.AvailabilityService, pdf *export.PDFExporter) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc, pdf: pdf}
}

// CreateWindow godoc
// @Summary Declare an availability window
// @Description Create a recurring weekday or single-date availability block
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body service.CreateWindowRequest true "Window payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /availability/windows [post]
func (h *AvailabilityHandler) CreateWindow(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid window payload"))
		return
	}
	req.TeacherID = claims.UserID

	window, err := h.service.CreateWindow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, window)
}

// UpdateWindow godoc
// @Summary Update an availability window
// @Description Rewrite a window's span and topic tags; removed spans withdraw open slots
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Window ID"
// @Param payload body service.UpdateWindowRequest true "Window payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /availability/windows/{id} [put]
func (h *AvailabilityHandler) UpdateWindow(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid window payload"))
		return
	}
	req.WindowID = c.Param("id")
	req.TeacherID = claims.UserID

	window, err := h.service.UpdateWindow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, window, nil)
}

// DeleteWindow godoc
// @Summary Withdraw an availability window
// @Description Deactivate a window and cancel its unbooked slots
// @Tags Availability
// @Produce json
// @Param id path string true "Window ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /availability/windows/{id} [delete]
func (h *AvailabilityHandler) DeleteWindow(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.DeleteWindow(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Chart godoc
// @Summary Upcoming availability chart
// @Description Day-bucketed upcoming availability for a teacher
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/availability [get]
func (h *AvailabilityHandler) Chart(c *gin.Context) {
	days, err := h.service.ListUpcoming(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, days, nil)
}

// ExportChart godoc
// @Summary Export availability chart as PDF
// @Description Render the upcoming availability chart as a downloadable PDF
// @Tags Availability
// @Produce application/pdf
// @Param id path string true "Teacher ID"
// @Success 200 {file} binary
// @Router /teachers/{id}/availability/export [get]
func (h *AvailabilityHandler) ExportChart(c *gin.Context) {
	teacherID := c.Param("id")
	days, err := h.service.ListUpcoming(c.Request.Context(), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}

	data, err := h.pdf.Render(chartTable(days), "Availability Chart", fmt.Sprintf("Teacher %s", teacherID))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render chart"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=availability-%s.pdf", teacherID))
	c.Data(http.StatusOK, "application/pdf", data)
}

// chartTable flattens day buckets into export rows. Each day becomes a
// section row followed by its slots.
func chartTable(days []models.AvailabilityDay) export.Table {
	columns := []string{"Start", "End", "Topics"}
	rows := make([]map[string]string, 0, len(days))
	for _, day := range days {
		rows = append(rows, map[string]string{
			"Start": fmt.Sprintf("%s %s", day.Weekday, day.Date),
		})
		for _, slot := range day.Slots {
			rows = append(rows, map[string]string{
				"Start":  slot.Start.Format("15:04 MST"),
				"End":    slot.End.Format("15:04 MST"),
				"Topics": strings.Join(slot.TopicIDs, ", "),
			})
		}
	}
	return export.Table{Columns: columns, Rows: rows}
}
