package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mobilemoney/server/internal/auth"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/repo"
)

type contextKey string

const accountKey contextKey = "account"

const unauthenticated = "Non authentifié."

// AuthMiddleware validates bearer tokens, loads the account from DB, and attaches it to the context
func AuthMiddleware(jwtService *auth.JWTService, accounts repo.AccountRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, unauthenticated)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondWithError(w, http.StatusUnauthorized, unauthenticated)
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, unauthenticated)
				return
			}

			claims, err := jwtService.VerifyToken(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, unauthenticated)
				return
			}

			account, err := accounts.GetByID(r.Context(), claims.AccountID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, unauthenticated)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), &account)))
		})
	}
}

// GetAccount returns the account attached to the request context (set by AuthMiddleware)
func GetAccount(ctx context.Context) (*model.Account, bool) {
	a, ok := ctx.Value(accountKey).(*model.Account)
	return a, ok
}

// WithAccount attaches an account to ctx the way AuthMiddleware does.
func WithAccount(ctx context.Context, a *model.Account) context.Context {
	return context.WithValue(ctx, accountKey, a)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"message": message}
	_ = json.NewEncoder(w).Encode(response)
}
