// internal/handlers/helpers.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

func requireCaller(c *gin.Context) (models.Caller, bool) {
	caller, ok := utils.GetCallerFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyAuthRequired))
		return models.Caller{}, false
	}
	return caller, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, name), err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON tolerates an empty body so optional payloads can be omitted.
func bindJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	return true
}
