package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/duesledger/duesledger/internal/auth"
	"github.com/duesledger/duesledger/internal/metrics"
)

// Authenticator verifies a private API body. Implemented by auth.Verifier.
type Authenticator interface {
	Authenticate(ctx context.Context, body []byte) (*auth.Request, error)
}

// PrivateAPIConfig configures the PrivateAPI middleware.
type PrivateAPIConfig struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Recorder      metrics.Recorder
	MaxBodySize   int64
}

// PrivateAPI authenticates HMAC-signed request bodies. Malformed bodies get
// 400, bodies no key signed get 403. On success the auth.Request is stored in
// the context for the handler.
func PrivateAPI(cfg PrivateAPIConfig) func(http.Handler) http.Handler {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxBodySize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBodySize)
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					recorder.IncAuthResult("malformed")
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeError(w, http.StatusBadRequest, "failed to read request body")
				return
			}

			req, err := cfg.Authenticator.Authenticate(r.Context(), body)
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrMalformedBody), errors.Is(err, auth.ErrMalformedPayload):
				recorder.IncAuthResult("malformed")
				cfg.Logger.Warn("private API request rejected",
					slog.String("reason", "malformed"),
					slog.String("endpoint", r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusBadRequest, "malformed request")
				return
			case errors.Is(err, auth.ErrUnauthorized):
				recorder.IncAuthResult("denied")
				cfg.Logger.Warn("private API request rejected",
					slog.String("reason", "unauthorized"),
					slog.String("endpoint", r.URL.Path),
					slog.String("ip", clientIP(r)),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			default:
				recorder.IncAuthResult("error")
				cfg.Logger.Error("private API authentication failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			recorder.IncAuthResult("ok")
			cfg.Logger.Debug("private API request authenticated",
				slog.String("key_id", req.Principal.KeyID),
				slog.String("endpoint", r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithRequest(r.Context(), req)))
		})
	}
}
