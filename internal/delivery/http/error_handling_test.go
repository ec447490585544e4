package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/apperr"
	"narrator-server/internal/auth"
	"narrator-server/internal/models"
)

func TestHandleServiceErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"недействительный токен", auth.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
		{"истекший токен", auth.ErrExpiredToken, http.StatusUnauthorized, "unauthorized"},
		{"отозванный токен", auth.ErrRevokedToken, http.StatusUnauthorized, "unauthorized"},
		{"неверный пароль", auth.ErrInvalidPassword, http.StatusUnauthorized, "unauthorized"},
		{"ошибка валидации", fmt.Errorf("%w: пустой текст", apperr.ErrValidation), http.StatusBadRequest, "bad_request"},
		{"не найдено", fmt.Errorf("%w: голос не найден", apperr.ErrNotFound), http.StatusNotFound, "not_found"},
		{"чужой ресурс", fmt.Errorf("%w: голос принадлежит другому пользователю", apperr.ErrAccessDenied), http.StatusForbidden, "forbidden"},
		{"ошибка конфигурации", fmt.Errorf("%w: не задан REMOTE_TTS_API_KEY", apperr.ErrConfiguration), http.StatusInternalServerError, "configuration_error"},
		{"ошибка внешнего сервиса", fmt.Errorf("%w: CUDA out of memory", apperr.ErrUpstream), http.StatusBadGateway, "upstream_error"},
		{"прочее", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			handleServiceError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

// Текст внутренних ошибок не протекает наружу, категоризованных - протекает.
func TestHandleServiceErrorBodyText(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handleServiceError(c, errors.New("pq: deadlock detected"))

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotContains(t, resp.Error, "deadlock")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handleServiceError(c, fmt.Errorf("%w: не задан REMOTE_TTS_ENDPOINT", apperr.ErrConfiguration))

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "REMOTE_TTS_ENDPOINT")
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		header    string
		wantToken string
		wantOK    bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc.def.ghi", "abc.def.ghi", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			c.Request.Header.Set("Authorization", tt.header)
		}
		token, ok := bearerToken(c)
		assert.Equal(t, tt.wantOK, ok, "header %q", tt.header)
		assert.Equal(t, tt.wantToken, token, "header %q", tt.header)
	}
}
