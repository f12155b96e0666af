package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/service"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
	"github.com/mentorlink/mentorlink-api/pkg/export"
	"github.com/mentorlink/mentorlink-api/pkg/response"
)

type bookingRecordLister interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.BookingRecord, error)
}

// BookingHandler exposes the free-tier auto-match flow, the paid-tier
// payment hold flow and the learner's booking history.
type BookingHandler struct {
	matching *service.MatchingService
	sessions *service.SessionService
	records  bookingRecordLister
	metrics  *service.MetricsService
	csv      *export.CSVExporter
}

// NewBookingHandler constructs a booking handler.
func NewBookingHandler(matching *service.MatchingService, sessions *service.SessionService, records bookingRecordLister, metrics *service.MetricsService, csv *export.CSVExporter) *BookingHandler {
	return &BookingHandler{matching: matching, sessions: sessions, records: records, metrics: metrics, csv: csv}
}

// BookFreeRequest asks for an auto-matched free session on a topic.
type BookFreeRequest struct {
	TopicID string `json:"topic_id" binding:"required"`
}

// HoldRequest claims a specific open slot pending payment.
type HoldRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	TopicID   string `json:"topic_id" binding:"required"`
}

// PaymentWebhookRequest is the payment provider's settlement callback.
type PaymentWebhookRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Status    string `json:"status" binding:"required,oneof=paid failed expired"`
}

// BookFree godoc
// @Summary Book a free session
// @Description Auto-match the learner with the best-fitting eligible teacher on the topic
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body handler.BookFreeRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings/free [post]
func (h *BookingHandler) BookFree(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req BookFreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid booking payload"))
		return
	}

	started := time.Now()
	summary, err := h.matching.BookFreeSession(c.Request.Context(), claims.UserID, req.TopicID)
	if err != nil {
		h.metrics.RecordBooking(string(models.TierFree), bookingResult(err), time.Since(started))
		response.Error(c, err)
		return
	}

	h.metrics.RecordBooking(string(models.TierFree), "booked", time.Since(started))
	response.Created(c, summary)
}

// Hold godoc
// @Summary Hold a paid slot
// @Description Place a payment hold on a specific open slot
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body handler.HoldRequest true "Hold payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings/hold [post]
func (h *BookingHandler) Hold(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid hold payload"))
		return
	}

	started := time.Now()
	session, err := h.sessions.HoldForPayment(c.Request.Context(), req.SessionID, claims.UserID, req.TopicID)
	if err != nil {
		h.metrics.RecordBooking(string(models.TierPaid), bookingResult(err), time.Since(started))
		response.Error(c, err)
		return
	}

	h.metrics.RecordBooking(string(models.TierPaid), "held", time.Since(started))
	response.Created(c, session)
}

// PaymentWebhook godoc
// @Summary Payment settlement webhook
// @Description Confirm or release a pending payment hold based on the provider's verdict
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body handler.PaymentWebhookRequest true "Settlement payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/webhook [post]
func (h *BookingHandler) PaymentWebhook(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid settlement payload"))
		return
	}

	var err error
	if req.Status == "paid" {
		err = h.sessions.ConfirmPayment(c.Request.Context(), req.SessionID)
	} else {
		err = h.sessions.RejectPayment(c.Request.Context(), req.SessionID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"session_id": req.SessionID, "status": req.Status}, nil)
}

// History godoc
// @Summary Booking history
// @Description The learner's booking records, newest first; format=csv downloads them
// @Tags Bookings
// @Produce json
// @Param format query string false "Response format (json or csv)"
// @Success 200 {object} response.Envelope
// @Router /bookings/history [get]
func (h *BookingHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	records, err := h.records.ListByStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking history"))
		return
	}

	if c.Query("format") == "csv" {
		data, err := h.csv.Render(historyTable(records))
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render history"))
			return
		}
		c.Header("Content-Disposition", "attachment; filename=bookings.csv")
		c.Data(http.StatusOK, "text/csv", data)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

func historyTable(records []models.BookingRecord) export.Table {
	columns := []string{"Booked At", "Teacher", "Topic", "Local Start", "Duration (min)", "Tier"}
	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, map[string]string{
			"Booked At":      record.CreatedAt.Format(time.RFC3339),
			"Teacher":        record.TeacherName,
			"Topic":          record.TopicName,
			"Local Start":    record.LocalStartTime,
			"Duration (min)": strconv.Itoa(record.DurationMinutes),
			"Tier":           string(record.Tier),
		})
	}
	return export.Table{Columns: columns, Rows: rows}
}

// bookingResult maps a failed booking to a metric label.
func bookingResult(err error) string {
	if appErr := appErrors.FromError(err); appErr != nil {
		return appErr.Code
	}
	return "error"
}
