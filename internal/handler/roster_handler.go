package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openlingua/school-api/internal/models"
	"github.com/openlingua/school-api/internal/service"
	appErrors "github.com/openlingua/school-api/pkg/errors"
	"github.com/openlingua/school-api/pkg/response"
)

// RosterHandler exposes roster and current-class views.
type RosterHandler struct {
	roster *service.RosterService
}

// NewRosterHandler constructs handler.
func NewRosterHandler(roster *service.RosterService) *RosterHandler {
	return &RosterHandler{roster: roster}
}

// ClassRoster godoc
// @Summary Get a class roster
// @Description Class detail, active members sorted by name, and the assigned teacher
// @Tags Roster
// @Produce json
// @Param id path string true "Class id"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classes/{id}/roster [get]
func (h *RosterHandler) ClassRoster(c *gin.Context) {
	roster, err := h.roster.ClassRoster(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// MyClass godoc
// @Summary Get the caller's current class
// @Tags Roster
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /me/class [get]
func (h *RosterHandler) MyClass(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if claims.Role != models.RoleStudent {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only students have a current class"))
		return
	}
	detail, err := h.roster.MyClass(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
