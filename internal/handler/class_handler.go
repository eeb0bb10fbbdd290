package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openlingua/school-api/internal/models"
	"github.com/openlingua/school-api/internal/service"
	appErrors "github.com/openlingua/school-api/pkg/errors"
	"github.com/openlingua/school-api/pkg/response"
)

// ClassHandler exposes class CRUD endpoints.
type ClassHandler struct {
	classes *service.ClassService
}

// NewClassHandler constructs handler.
func NewClassHandler(classes *service.ClassService) *ClassHandler {
	return &ClassHandler{classes: classes}
}

// List godoc
// @Summary List classes
// @Tags Classes
// @Produce json
// @Param language query string false "Filter by language"
// @Param level query string false "Filter by level"
// @Param status query string false "Filter by status"
// @Param teacherId query string false "Filter by teacher"
// @Param search query string false "Search by name"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	filter := models.ClassFilter{
		Language:  c.Query("language"),
		Level:     c.Query("level"),
		Status:    models.ClassStatus(c.Query("status")),
		TeacherID: c.Query("teacherId"),
		Search:    c.Query("search"),
		Page:      page,
		PageSize:  pageSize,
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}

	classes, pagination, err := h.classes.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, pagination)
}

// Get godoc
// @Summary Get class by id
// @Tags Classes
// @Produce json
// @Param id path string true "Class id"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	detail, err := h.classes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create class
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body service.CreateClassRequest true "Class payload"
// @Security BearerAuth
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	var req service.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.classes.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// Update godoc
// @Summary Update class
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class id"
// @Param payload body service.UpdateClassRequest true "Class payload"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id} [put]
func (h *ClassHandler) Update(c *gin.Context) {
	var req service.UpdateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.classes.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Delete godoc
// @Summary Delete class
// @Tags Classes
// @Produce json
// @Param id path string true "Class id"
// @Security BearerAuth
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /classes/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	if err := h.classes.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
