package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rexl2018/aiapiproxy/internal/apierror"
	"github.com/rexl2018/aiapiproxy/internal/config"
)

type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

// NewAuthMiddleware guards the gateway itself with the configured API key.
// Auth is disabled when no key is configured.
func NewAuthMiddleware(cfg *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		config: cfg,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Warn("authentication failed", "error", err, "remote_addr", r.RemoteAddr)

			aerr := apierror.Authentication("invalid or missing gateway API key")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(aerr.Status())
			_ = json.NewEncoder(w).Encode(aerr.Envelope())

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) error {
	cfg := am.config.Get()

	if cfg.Server.APIKey == "" {
		return nil
	}

	var token string

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		token = apiKey
	}

	if token == "" {
		return errors.New("no authentication token provided")
	}

	if token != cfg.Server.APIKey {
		return errors.New("invalid API key")
	}

	return nil
}
