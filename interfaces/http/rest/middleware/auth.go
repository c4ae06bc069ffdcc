package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// Headers set by the Lambda entrypoint after API Gateway's JWT authorizer ran
const (
	HeaderGatewayAuthorized = "X-API-Gateway-Authorized"
	HeaderUserID            = "X-User-ID"
	HeaderUserEmail         = "X-User-Email"
	HeaderUserAuthorities   = "X-User-Authorities"
)

// AuthConfig configures Authenticate. Nil limiters disable rate limiting.
type AuthConfig struct {
	Validator    *auth.JWTValidator
	IPLimiter    auth.RateLimiter
	UserLimiter  auth.RateLimiter
	TrustGateway bool
}

// Authenticate validates the bearer token, applies the rate limits and stores
// the caller's UserContext, authorities included, in the request context.
func Authenticate(cfg AuthConfig, errs *apperrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)
			if !allow(r.Context(), cfg.IPLimiter, clientIP, logger) {
				errs.HandleStatus(w, r, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			var user *auth.UserContext
			if cfg.TrustGateway && r.Header.Get(HeaderGatewayAuthorized) == "true" {
				user = gatewayUser(r)
				if user == nil {
					errs.HandleStatus(w, r, http.StatusUnauthorized, "Missing user context from API Gateway")
					return
				}
			} else {
				token := extractToken(r)
				if token == "" || cfg.Validator == nil {
					errs.HandleStatus(w, r, http.StatusUnauthorized, "Missing authentication token")
					return
				}
				claims, err := cfg.Validator.ValidateToken(token)
				if err != nil {
					logger.Warn("Invalid token",
						zap.Error(err),
						zap.String("ip", clientIP),
						zap.String("path", r.URL.Path),
					)
					switch err {
					case auth.ErrExpiredToken:
						errs.HandleStatus(w, r, http.StatusUnauthorized, "Token has expired")
					case auth.ErrInvalidSignature:
						errs.HandleStatus(w, r, http.StatusUnauthorized, "Invalid token signature")
					default:
						errs.HandleStatus(w, r, http.StatusUnauthorized, "Invalid token")
					}
					return
				}
				user = &auth.UserContext{
					UserID:      claims.UserID,
					Email:       claims.Email,
					Authorities: claims.Authorities,
				}
			}

			if !allow(r.Context(), cfg.UserLimiter, user.UserID, logger) {
				errs.HandleStatus(w, r, http.StatusTooManyRequests, "User rate limit exceeded")
				return
			}

			logger.Debug("Request authenticated",
				zap.String("userID", user.UserID),
				zap.Strings("authorities", user.Authorities),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, setUser(r, user))
		})
	}
}

// RequireAuthority rejects callers holding none of codes
func RequireAuthority(errs *apperrors.ErrorHandler, codes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.GetUserFromContext(r.Context())
			if err != nil {
				errs.HandleStatus(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			for _, code := range codes {
				if user.HasAuthority(code) {
					next.ServeHTTP(w, r)
					return
				}
			}
			errs.Handle(w, r, apperrors.NotAuthorized(strings.Join(codes, "|")))
		})
	}
}

func allow(ctx context.Context, limiter auth.RateLimiter, key string, logger *zap.Logger) bool {
	if limiter == nil {
		return true
	}
	ok, err := limiter.Allow(ctx, key)
	if err != nil {
		// limiters fail open
		logger.Warn("Rate limiter error", zap.Error(err))
	}
	return ok
}

func gatewayUser(r *http.Request) *auth.UserContext {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return nil
	}
	var authorities []string
	for _, a := range strings.Split(r.Header.Get(HeaderUserAuthorities), ",") {
		if a = strings.TrimSpace(a); a != "" {
			authorities = append(authorities, a)
		}
	}
	return &auth.UserContext{
		UserID:      userID,
		Email:       r.Header.Get(HeaderUserEmail),
		Authorities: authorities,
	}
}

// extractToken reads the bearer token from the Authorization header or the auth_token cookie
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return authHeader
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// getClientIP extracts the client IP address
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

func setUser(r *http.Request, user *auth.UserContext) *http.Request {
	if h, ok := r.Context().Value(holderKey{}).(*userHolder); ok {
		h.user = user
	}
	return r.WithContext(auth.SetUserInContext(r.Context(), user))
}
