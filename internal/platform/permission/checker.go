// Package permission answers "may the current user do X" questions. The
// decision itself is delegated to a Checker; this package adds caching and
// echo wiring around it.
package permission

import (
	"context"
	"errors"
)

// Codenames guarding the X-ray screens.
const (
	ViewXRay   = "view_xrayimage"
	AddXRay    = "add_xrayimage"
	ChangeXRay = "change_xrayimage"
	DeleteXRay = "delete_xrayimage"
)

// ErrUnauthenticated is returned when the checker cannot identify the caller.
var ErrUnauthenticated = errors.New("permission: unauthenticated")

// Checker reports whether the user on ctx holds the permission codename.
type Checker interface {
	HasPermission(ctx context.Context, codename string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, codename string) (bool, error)

func (f CheckerFunc) HasPermission(ctx context.Context, codename string) (bool, error) {
	return f(ctx, codename)
}
