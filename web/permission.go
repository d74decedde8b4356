package web

import (
	"net/http"

	"orchex/internal/apperrors"
)

// PermissionChecker gates API actions. Implementations decide from the
// request (headers, client certs, source address) whether the caller may
// perform the named action, e.g. "queues.write" or "items.claim".
type PermissionChecker interface {
	Check(r *http.Request, action string) error
}

// AllowAll grants every action. It is the default when no checker is
// configured.
type AllowAll struct{}

func (AllowAll) Check(r *http.Request, action string) error { return nil }

func (handler *HttpRouteHandler) requirePermission(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := handler.permissions.Check(r, action); err != nil {
			writeError(w, apperrors.ErrPermissionDenied)
			return
		}
		next(w, r)
	}
}
