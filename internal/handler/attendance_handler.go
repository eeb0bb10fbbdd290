package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openlingua/school-api/internal/service"
	appErrors "github.com/openlingua/school-api/pkg/errors"
	"github.com/openlingua/school-api/pkg/response"
)

// AttendanceHandler exposes attendance recording and session views.
type AttendanceHandler struct {
	attendance *service.AttendanceService
	roster     *service.RosterService
}

// NewAttendanceHandler constructs handler.
func NewAttendanceHandler(attendance *service.AttendanceService, roster *service.RosterService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, roster: roster}
}

// Save godoc
// @Summary Record attendance for a session
// @Description Upsert a batch of marks keyed by (class, student, date); re-submitting overwrites
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Class id"
// @Param payload body service.SaveAttendanceRequest true "Attendance payload"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classes/{id}/attendance [post]
func (h *AttendanceHandler) Save(c *gin.Context) {
	var req service.SaveAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.attendance.Save(c.Request.Context(), c.Param("id"), claimsFromContext(c), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"ok": true}, nil)
}

// ListSessions godoc
// @Summary List attendance sessions
// @Description Session dates with per-status counts, most recent first
// @Tags Attendance
// @Produce json
// @Param id path string true "Class id"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance/sessions [get]
func (h *AttendanceHandler) ListSessions(c *gin.Context) {
	sessions, err := h.roster.ListSessions(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// SessionDetail godoc
// @Summary Get one session's marks
// @Tags Attendance
// @Produce json
// @Param id path string true "Class id"
// @Param date path string true "Session date (YYYY-MM-DD)"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance/sessions/{date} [get]
func (h *AttendanceHandler) SessionDetail(c *gin.Context) {
	rows, err := h.roster.SessionDetail(c.Request.Context(), c.Param("id"), c.Param("date"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Export godoc
// @Summary Export one session as CSV or PDF
// @Tags Attendance
// @Produce octet-stream
// @Param id path string true "Class id"
// @Param date query string true "Session date (YYYY-MM-DD)"
// @Param format query string false "csv or pdf" default(csv)
// @Security BearerAuth
// @Success 200
// @Router /classes/{id}/attendance/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	export, err := h.roster.ExportSession(c.Request.Context(), c.Param("id"), c.Query("date"), c.DefaultQuery("format", "csv"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	c.Data(http.StatusOK, export.ContentType, export.Content)
}
