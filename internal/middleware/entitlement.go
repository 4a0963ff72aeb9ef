package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "lpvault/internal/errors"
)

// EntitlementChecker is the slice of the license service the gate needs.
type EntitlementChecker interface {
	CanUseApp(ctx context.Context) bool
}

// EntitlementGate refuses vault routes when neither a valid license nor an
// active trial covers this device. The check is purely local; it never
// blocks on the network.
func EntitlementGate(checker EntitlementChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checker.CanUseApp(r.Context()) {
				logger.InfoContext(r.Context(), "request refused without entitlement",
					slog.String("path", r.URL.Path))
				render.Render(w, r, apperrors.Renderer(apperrors.EntitlementRequired()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
