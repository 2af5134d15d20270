package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
)

// ErrorHandler renders handler errors as {"error", "type", "data"?,
// "details"?} with the status mapped from the error kind. Echo's own
// errors (404 routes, 405, bind failures) keep their status.
func ErrorHandler(log zerolog.Logger, devMode bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := renderError(err, devMode)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.Warn().Err(err).Msg("write error response")
		}
	}
}

func renderError(err error, devMode bool) (int, map[string]any) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, map[string]any{"error": msg, "type": "http"}
	}
	ae := apperror.As(err)
	return ae.HTTPStatus(), apperror.Body(ae, devMode)
}
