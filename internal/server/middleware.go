package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/hooks"
	"github.com/nickromney-org/release-update-server/internal/updater"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	unknownErrorMessage = "Something went wrong."
)

// StructuredLogger logs one line per request and attaches a request-scoped
// logger to the request context
func StructuredLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		reqLogger := logger.With().Str(requestIDKey, id).Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = reqLogger.Error()
		case status >= http.StatusBadRequest:
			event = reqLogger.Warn()
		default:
			event = reqLogger.Info()
		}

		event.
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status_code", status).
			Int("body_size", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// renderErrors writes the last handler error, negotiating plain text, HTML or
// JSON. Errors without a kind are logged and replaced by a generic message.
func (s *Server) renderErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		logger := zerolog.Ctx(c.Request.Context())

		if c.Writer.Written() {
			logger.Error().Err(err).Msg("error after response started")
			return
		}

		name, msg, code := describe(err)
		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).Int("code", code).Msg("request failed")
		} else {
			logger.Debug().Err(err).Int("code", code).Msg("request rejected")
		}

		switch c.NegotiateFormat(gin.MIMEPlain, gin.MIMEHTML, gin.MIMEJSON) {
		case gin.MIMEJSON:
			c.JSON(code, gin.H{"name": name, "error": msg, "code": code})
		case gin.MIMEHTML:
			c.Data(code, "text/html; charset=utf-8", []byte(errorPage(name, msg)))
		default:
			c.String(code, msg)
		}
	}
}

// describe maps an error to the name, message and status code shown to clients
func describe(err error) (string, string, int) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.KindUnknown {
		return "Error", unknownErrorMessage, http.StatusInternalServerError
	}
	return string(e.Kind), e.Error(), apperr.HTTPStatus(e.Kind)
}

func errorPage(name, msg string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en-GB">
<head>
<meta charset="UTF-8">
<title>%s</title>
</head>
<body>
<h1>%s</h1>
</body>
</html>
`, html.EscapeString(name), html.EscapeString(msg))
}

func (s *Server) notFound(c *gin.Context) {
	_ = c.Error(apperr.NotFound("Page not found"))
}

// apiAccess wraps the /api handlers in the api hook so before stages can
// reject the call
func (s *Server) apiAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		event := updater.APIEvent{Request: c.Request}
		err := s.svc.Hooks().Run(c.Request.Context(), hooks.EventAPI, event, func(context.Context) error {
			c.Next()
			return nil
		})
		if err != nil {
			_ = c.Error(err)
			c.Abort()
		}
	}
}

// basicAuth is an api stage that checks HTTP basic credentials
func basicAuth(username, password string) hooks.Stage {
	return func(ctx context.Context, payload any) error {
		event, ok := payload.(updater.APIEvent)
		if !ok || event.Request == nil {
			return apperr.Unauthorized("Invalid username/password for API")
		}

		user, pass, ok := event.Request.BasicAuth()
		if !ok || user == "" || pass == "" {
			return apperr.Unauthorized("Invalid username/password for API")
		}

		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userOK || !passOK {
			return apperr.Unauthorized("Invalid username/password for API")
		}
		return nil
	}
}
