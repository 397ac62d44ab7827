package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/errs"
	"QuantSim/pkg/logger"
)

func TestFromErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errs.Setupf("load", "no bars"), http.StatusUnprocessableEntity, "ERR_SETUP_FAILURE"},
		{fmt.Errorf("wrap: %w", errs.Persistence("flush", errors.New("disk"))), http.StatusServiceUnavailable, "ERR_PERSISTENCE"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "ERR_TIMEOUT"},
		{BadRequestErrorf("bad %s", "x"), http.StatusBadRequest, "ERR_BAD_REQUEST"},
		{errors.New("boom"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		assert.Equal(t, tc.status, got.Status, tc.err.Error())
		assert.Equal(t, tc.code, got.Code, tc.err.Error())
	}
}

type runRequest struct {
	Strategy string  `json:"strategy" validate:"required"`
	Mode     string  `json:"mode" default:"synthetic" validate:"oneof=csv synthetic"`
	Equity   float64 `json:"equity" default:"1000" validate:"gt=0"`
}

func bind(t *testing.T, body string) (runRequest, []ValidationError) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	var r runRequest
	return r, ReadAndValidateRequest(c, &r)
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"strategy":"ema_cross"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	var r runRequest
	require.Nil(t, ReadAndValidateRequest(c, &r))
	assert.Equal(t, "synthetic", r.Mode)
	assert.Equal(t, 1000.0, r.Equity)
}

func TestReadAndValidateRequestErrors(t *testing.T) {
	_, verrs := bind(t, `{"mode":"ftp"}`)
	require.Len(t, verrs, 2)
	codes := []string{verrs[0].Code, verrs[1].Code}
	assert.ElementsMatch(t, []string{"ERR_REQUIRED", "ERR_ONEOF"}, codes)
}

func TestServerHealthz(t *testing.T) {
	s := NewServer(logger.Nop(), nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
