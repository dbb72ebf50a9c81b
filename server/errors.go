package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/apperror"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handleError maps classified errors to responses. Caller mistakes are
// reported verbatim; remote and internal failures are logged and answered
// with a generic message. NotFound has an empty body.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := fmt.Sprint(he.Message)
		if he.Code == http.StatusNotFound {
			message = ""
		}
		s.respond(c, he.Code, message)
		return
	}

	logger := s.logger.With(
		zap.String("method", c.Request().Method),
		zap.String("uri", c.Request().RequestURI),
		zap.Error(err))

	kind := apperror.KindOf(err)
	switch kind {
	case apperror.KindNotFound:
		s.respond(c, http.StatusNotFound, "")
	case apperror.KindBadRequest, apperror.KindUnauthorized:
		logger.Debug("request rejected")
		s.respond(c, kind.Status(), apperror.Message(err))
	case apperror.KindBadGateway:
		logger.Warn("remote server failure")
		s.respond(c, http.StatusBadGateway, "a remote server failed to respond correctly")
	default:
		logger.Error("internal error")
		s.respond(c, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) respond(c echo.Context, status int, message string) {
	var err error
	if message == "" || c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Error: message})
	}
	if err != nil {
		s.logger.Error("write error response", zap.Error(err))
	}
}
