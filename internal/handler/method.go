package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// extensionMethodKey holds the inbound method of a request Echo's router has
// no slot for. Such requests are routed as POST and restored in Handle.
const extensionMethodKey = "proxy.extension_method"

// routableMethods mirrors the method list Echo registers for Any routes.
var routableMethods = map[string]bool{
	http.MethodConnect: true,
	http.MethodDelete:  true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPatch:   true,
	http.MethodPost:    true,
	echo.PROPFIND:      true,
	http.MethodPut:     true,
	http.MethodTrace:   true,
	echo.REPORT:        true,
}

// NormalizeMethod is a pre-routing middleware that uppercases the request
// method, so "post" routes like "POST". Extension methods such as QUERY are
// routed as POST with the real method kept on the context.
func NormalizeMethod() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			method := strings.ToUpper(req.Method)
			if !routableMethods[method] {
				c.Set(extensionMethodKey, method)
				method = http.MethodPost
			}
			// The router reads the method from this same request value.
			req.Method = method
			return next(c)
		}
	}
}

// restoreMethod puts back an extension method that NormalizeMethod routed
// as POST.
func restoreMethod(c echo.Context) {
	if method, ok := c.Get(extensionMethodKey).(string); ok {
		c.Request().Method = method
	}
}
