// Package middleware содержит HTTP middleware для сервиса финлёрн.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mmeshcher/finlearn-system/internal/identity"
)

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware выполняет проверку аутентификации по bearer-токену провайдера.
type AuthMiddleware struct {
	verifier identity.Verifier
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным проверяющим токенов.
func NewAuthMiddleware(verifier identity.Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Middleware проверяет заголовок Authorization и добавляет личность в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearerToken(r)
		if tokenString == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ident, err := a.verifier.VerifyToken(r.Context(), tokenString)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

// GetIdentityFromContext извлекает проверенную личность из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(*identity.Identity)
	return ident, ok
}
