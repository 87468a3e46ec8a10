package permission

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Require returns middleware that rejects the request unless the caller holds
// codename. A checker error denies access.
func Require(checker Checker, codename string, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, err := checker.HasPermission(c.Request().Context(), codename)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
				}
				rid, _ := c.Get("request_id").(string)
				logger.Warn().Err(err).
					Str("request_id", rid).
					Str("codename", codename).
					Msg("permission check failed")
				return echo.NewHTTPError(http.StatusForbidden, "permission check failed")
			}
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden, "missing permission: "+codename)
			}
			return next(c)
		}
	}
}

// Resolve checks several codenames concurrently. A codename whose check fails
// is reported as not granted; the first error is returned alongside.
func Resolve(ctx context.Context, checker Checker, codenames ...string) (map[string]bool, error) {
	results := make([]bool, len(codenames))
	var g errgroup.Group
	for i, code := range codenames {
		g.Go(func() error {
			ok, err := checker.HasPermission(ctx, code)
			results[i] = ok && err == nil
			return err
		})
	}
	err := g.Wait()

	out := make(map[string]bool, len(codenames))
	for i, code := range codenames {
		out[code] = results[i]
	}
	return out, err
}
