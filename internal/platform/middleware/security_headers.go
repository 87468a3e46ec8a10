package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers every API answer carries. HSTS is
// only sent when strictTransport is set, so local plain-HTTP runs keep working.
func SecurityHeaders(strictTransport bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if strictTransport {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			// Patient data must not land in shared caches.
			h.Set("Cache-Control", "private, no-cache")

			return next(c)
		}
	}
}
