package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openlingua/school-api/internal/service"
	appErrors "github.com/openlingua/school-api/pkg/errors"
	"github.com/openlingua/school-api/pkg/response"
)

// EnrollmentHandler exposes the assignment endpoints for students and
// teachers.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs handler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// AssignStudents godoc
// @Summary Assign students to a class
// @Description Enroll a batch of students; the whole batch is rejected when it would exceed capacity
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Class id"
// @Param payload body service.AssignStudentsRequest true "Student ids"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /classes/{id}/students [post]
func (h *EnrollmentHandler) AssignStudents(c *gin.Context) {
	var req service.AssignStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assigned, err := h.enrollments.AssignStudents(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"assigned_count": assigned}, nil)
}

// AssignSingle godoc
// @Summary Assign one student to a class
// @Description Enroll or move a single student; any previous active enrollment is released
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.AssignSingleStudentRequest true "Assignment payload"
// @Security BearerAuth
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) AssignSingle(c *gin.Context) {
	var req service.AssignSingleStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.enrollments.AssignSingle(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// Unassign godoc
// @Summary Remove a student from a class
// @Tags Enrollments
// @Produce json
// @Param id path string true "Class id"
// @Param studentId path string true "Student id"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id}/students/{studentId} [delete]
func (h *EnrollmentHandler) Unassign(c *gin.Context) {
	detail, err := h.enrollments.Unassign(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// AssignTeacher godoc
// @Summary Assign a teacher to a class
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Class id"
// @Param payload body service.AssignTeacherRequest true "Teacher payload"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id}/teacher [put]
func (h *EnrollmentHandler) AssignTeacher(c *gin.Context) {
	var req service.AssignTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.enrollments.AssignTeacher(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// UnassignTeacher godoc
// @Summary Remove the teacher from a class
// @Tags Enrollments
// @Produce json
// @Param id path string true "Class id"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/teacher [delete]
func (h *EnrollmentHandler) UnassignTeacher(c *gin.Context) {
	detail, err := h.enrollments.UnassignTeacher(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
