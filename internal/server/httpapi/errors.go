package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/docseal/internal/common"
)

const (
	msgInvalidLink = "invalid or expired link"
	msgSigned      = "already signed"
	msgOutOfTurn   = "not your turn yet"
	msgConflict    = "request was modified concurrently, retry"
	msgValidation  = "validation failed"
	msgNotFound    = "not found"
	msgInternal    = "internal error"
)

// mapError turns a service error into a status code and a message that is
// safe to show to end users.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, msgValidation
	case errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrTokenNotFound),
		errors.Is(err, common.ErrAccessDenied):
		return http.StatusUnauthorized, msgInvalidLink
	case errors.Is(err, common.ErrAlreadyProcessed):
		return http.StatusConflict, msgSigned
	case errors.Is(err, common.ErrOutOfTurn):
		return http.StatusConflict, msgOutOfTurn
	case errors.Is(err, common.ErrVersionConflict):
		return http.StatusConflict, msgConflict
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, msgNotFound
	}
	return http.StatusInternalServerError, msgInternal
}

func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	resp := errorResponse{}
	var code int

	var he *echo.HTTPError
	var verr *common.ValidationError
	switch {
	case errors.As(err, &he):
		code = he.Code
		resp.ErrorMessage = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			resp.ErrorMessage = msg
		}
	case errors.As(err, &verr):
		code, resp.ErrorMessage = http.StatusBadRequest, msgValidation
		resp.Fields = verr.Fields
	default:
		code, resp.ErrorMessage = mapError(err)
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "error writing error response", "error", err)
	}
}
