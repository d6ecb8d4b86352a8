// internal/utils/response.go
package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/models"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, statusCode int, code, message string, details interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func BadRequestResponse(c *gin.Context, message string, details interface{}) {
	lang := GetLangFromContext(c)
	if message == "" {
		message = i18n.T(lang, i18n.KeyValidationInvalid, "request")
	}
	ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", message, details)
}

func UnauthorizedResponse(c *gin.Context, message string) {
	lang := GetLangFromContext(c)
	if message == "" {
		message = i18n.T(lang, i18n.KeyAuthRequired)
	}
	ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func ForbiddenResponse(c *gin.Context, message string) {
	lang := GetLangFromContext(c)
	if message == "" {
		message = i18n.T(lang, i18n.KeyAdminAccessDenied)
	}
	ErrorResponse(c, http.StatusForbidden, "FORBIDDEN", message, nil)
}

func InternalErrorResponse(c *gin.Context, message string) {
	if message == "" {
		message = i18n.T(GetLangFromContext(c), i18n.KeyErrorInternal)
	}
	ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

var kindStatus = map[apperrors.Kind]struct {
	status int
	key    string
}{
	apperrors.KindValidation:        {http.StatusBadRequest, i18n.KeyErrorValidation},
	apperrors.KindState:             {http.StatusConflict, i18n.KeyErrorState},
	apperrors.KindAuthorization:     {http.StatusForbidden, i18n.KeyErrorAuthorization},
	apperrors.KindInsufficientFunds: {http.StatusPaymentRequired, i18n.KeyErrorInsufficientFunds},
	apperrors.KindCollaborator:      {http.StatusBadGateway, i18n.KeyErrorCollaborator},
	apperrors.KindNotFound:          {http.StatusNotFound, i18n.KeyErrorNotFound},
}

// AppErrorResponse writes err using the HTTP status of its kind. Errors
// without a kind are logged and reported as internal errors.
func AppErrorResponse(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	mapping, ok := kindStatus[kind]
	if !ok {
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Unhandled service error")
		InternalErrorResponse(c, "")
		return
	}

	code := apperrors.CodeOf(err)
	if code == "" {
		code = string(kind)
	}

	ErrorResponse(c, mapping.status, code, i18n.T(GetLangFromContext(c), mapping.key), gin.H{
		"reason": err.Error(),
	})
}

func PaginatedResponse(c *gin.Context, result PaginationResult) {
	SetPaginationHeaders(c, result)
	SuccessResponseWithMeta(c, result.Data, gin.H{
		"pagination": gin.H{
			"page":        result.Page,
			"limit":       result.Limit,
			"total":       result.Total,
			"total_pages": result.TotalPages,
		},
	})
}

func GetLangFromContext(c *gin.Context) string {
	if lang, exists := c.Get("lang"); exists {
		if langStr, ok := lang.(string); ok {
			return langStr
		}
	}
	return "en"
}

func GetUserIDFromContext(c *gin.Context) (string, bool) {
	if userID, exists := c.Get("user_id"); exists {
		if userIDStr, ok := userID.(string); ok {
			return userIDStr, true
		}
	}
	return "", false
}

func GetRoleFromContext(c *gin.Context) (models.Role, bool) {
	if role, exists := c.Get("role"); exists {
		if r, ok := role.(models.Role); ok {
			return r, true
		}
	}
	return "", false
}

// GetCallerFromContext builds the authenticated caller set by the auth middleware.
func GetCallerFromContext(c *gin.Context) (models.Caller, bool) {
	userID, ok := GetUserIDFromContext(c)
	if !ok {
		return models.Caller{}, false
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return models.Caller{}, false
	}
	role, _ := GetRoleFromContext(c)
	if role == "" {
		role = models.RoleUser
	}
	return models.Caller{ID: id, Role: role}, true
}
