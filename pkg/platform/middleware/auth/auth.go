// Package auth guards write-capable endpoints with bearer tokens. Rank
// changes are irreversible from the platform's point of view, so only
// callers holding a token signed with the shared service key may reach them.
package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "github.com/myx-labs/api-mecs/pkg/domain-errors"
	"github.com/myx-labs/api-mecs/pkg/platform/httputil"
	"github.com/myx-labs/api-mecs/pkg/requestcontext"
)

// Validator verifies HS256 bearer tokens signed with the shared service key.
type Validator struct {
	signingKey []byte
	logger     *slog.Logger
}

// NewValidator constructs a token validator. The logger may be nil.
func NewValidator(signingKey string, logger *slog.Logger) *Validator {
	return &Validator{signingKey: []byte(signingKey), logger: logger}
}

// Claims are the claims this service issues and accepts.
type Claims struct {
	jwt.RegisteredClaims
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject in the request context for audit logging.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "bearer token required"))
			return
		}

		claims, err := v.validate(token)
		if err != nil {
			if v.logger != nil {
				v.logger.WarnContext(r.Context(), "rejected bearer token",
					"request_id", requestcontext.RequestID(r.Context()),
					"error", err,
				)
			}
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid bearer token"))
			return
		}

		ctx := requestcontext.WithSubject(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (v *Validator) validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueToken mints a token for the given subject. Used by operators to
// provision credentials for review dashboards and loop runners.
func (v *Validator) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.signingKey)
}
