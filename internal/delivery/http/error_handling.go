package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"narrator-server/internal/apperr"
	"narrator-server/internal/auth"
	"narrator-server/internal/models"
)

// Коды ошибок в теле ответа. Клиент различает их без разбора текста.
const (
	errCodeBadRequest   = "bad_request"
	errCodeUnauthorized = "unauthorized"
	errCodeForbidden    = "forbidden"
	errCodeNotFound     = "not_found"
	errCodeConfig       = "configuration_error"
	errCodeUpstream     = "upstream_error"
	errCodeInternal     = "internal_error"
)

// handleServiceError переводит ошибку сервисного слоя в HTTP-статус и тело.
// Сопоставление идет по категориям через errors.Is, текст берется из ошибки.
func handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var errResp models.ErrorResponse

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrRevokedToken),
		errors.Is(err, auth.ErrInvalidPassword):
		statusCode = http.StatusUnauthorized
		errResp = models.ErrorResponse{Error: err.Error(), Code: errCodeUnauthorized}
	case errors.Is(err, apperr.ErrValidation):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Error: err.Error(), Code: errCodeBadRequest}
	case errors.Is(err, apperr.ErrNotFound):
		statusCode = http.StatusNotFound
		errResp = models.ErrorResponse{Error: err.Error(), Code: errCodeNotFound}
	case errors.Is(err, apperr.ErrAccessDenied):
		statusCode = http.StatusForbidden
		errResp = models.ErrorResponse{Error: err.Error(), Code: errCodeForbidden}
	case errors.Is(err, apperr.ErrConfiguration):
		// Текст ошибки называет недостающую настройку, он полезен оператору.
		statusCode = http.StatusInternalServerError
		errResp = models.ErrorResponse{Error: err.Error(), Code: errCodeConfig}
	case errors.Is(err, apperr.ErrUpstream):
		statusCode = http.StatusBadGateway
		errResp = models.ErrorResponse{Error: err.Error(), Code: errCodeUpstream}
	default:
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("Необработанная внутренняя ошибка")
		statusCode = http.StatusInternalServerError
		errResp = models.ErrorResponse{Error: "внутренняя ошибка сервера", Code: errCodeInternal}
	}

	c.AbortWithStatusJSON(statusCode, errResp)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: msg, Code: errCodeBadRequest})
}
