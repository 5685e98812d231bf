package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brightpath/brightpath-backend/internal/platform/apierr"
	"github.com/brightpath/brightpath-backend/internal/platform/openai"
	"github.com/brightpath/brightpath-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps service-layer error types onto HTTP statuses.
// Truncated exam output keeps its own code end-to-end so clients can offer
// "reduce question count" guidance instead of a blind retry.
func RespondServiceError(c *gin.Context, err error) {
	var (
		validation *services.ValidationError
		access     *services.AccessError
		truncated  *services.TruncatedOutputError
		apiErr     *apierr.Error
		provider   *openai.APIError
		jsonParse  *openai.JSONParseError
	)
	switch {
	case errors.As(err, &validation):
		RespondError(c, http.StatusBadRequest, "invalid_request", validation)
	case errors.As(err, &access):
		RespondError(c, http.StatusForbidden, "material_not_accessible", access)
	case errors.As(err, &truncated):
		RespondError(c, http.StatusUnprocessableEntity, "exam_truncated", truncated)
	case errors.As(err, &apiErr):
		RespondError(c, apiErr.Status, apiErr.Code, apiErr)
	case errors.As(err, &provider):
		RespondError(c, http.StatusBadGateway, "provider_error", provider)
	case errors.As(err, &jsonParse):
		RespondError(c, http.StatusBadGateway, "provider_bad_output", jsonParse)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
