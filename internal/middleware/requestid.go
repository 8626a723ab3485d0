package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestIDKey is the context key carrying the request ID for logs.
const RequestIDKey = "request_id"

// RequestID tags each request with an ID, reusing an inbound X-Request-Id
// when present. The ID stays on the context for logging and is not echoed in
// the response, which carries upstream headers only.
func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set(RequestIDKey, id)
			c.Response().Header().Del(echo.HeaderXRequestID)
		},
	})
}

// requestID returns the ID set by RequestID, or empty when it is not mounted.
func requestID(c echo.Context) string {
	id, _ := c.Get(RequestIDKey).(string)
	return id
}
