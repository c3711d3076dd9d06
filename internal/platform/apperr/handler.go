package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Handler returns an echo.HTTPErrorHandler that renders AppErrors as JSON.
// Client errors are returned silently; upstream and internal errors are
// logged with their cause and answered with a generic message. Once the
// response is committed the error is only logged.
func Handler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ae := translate(err)
		rid, _ := c.Get("request_id").(string)

		if ae.Status >= http.StatusInternalServerError {
			logger.Error().
				Err(ae.Err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", ae.Status).
				Msg("request failed")
		}

		if c.Response().Committed {
			logger.Warn().Err(err).Str("request_id", rid).Msg("error after response committed")
			return
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(ae.Status)
		} else {
			werr = c.JSON(ae.Status, ae)
		}
		if werr != nil {
			logger.Error().Err(werr).Str("request_id", rid).Msg("write error response")
		}
	}
}

func translate(err error) *AppError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		switch {
		case he.Code == http.StatusNotFound:
			return &AppError{Status: he.Code, Code: "NOT_FOUND", Message: msg, Err: ErrNotFound}
		case he.Code == http.StatusUnauthorized:
			return Unauthorized(msg)
		case he.Code == http.StatusForbidden:
			return Forbidden(msg)
		case he.Code >= http.StatusInternalServerError:
			ae := Internal(err)
			ae.Status = he.Code
			return ae
		default:
			return &AppError{Status: he.Code, Code: codeFor(he.Code), Message: msg, Err: err}
		}
	}
	return From(err)
}

func codeFor(status int) string {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	case http.StatusConflict:
		return "CONFLICT"
	default:
		return "BAD_REQUEST"
	}
}
