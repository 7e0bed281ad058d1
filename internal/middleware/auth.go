// Package middleware содержит HTTP middleware для сервиса braidbook.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/braidbook/braidbook-system/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour
)

// Identity описывает аутентифицированного вызывающего: пользователя и его роль.
type Identity struct {
	UserID int64
	Role   model.Role
}

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет личность вызывающего в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		id, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя и роли.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64, role model.Role) {
	value := a.sign(strconv.FormatInt(userID, 10), string(role))

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(idStr, role string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(idStr + ":" + role))
	signature := mac.Sum(nil)
	return idStr + "." + role + "." + hex.EncodeToString(signature)
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Identity, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 3 {
		return Identity{}, false
	}

	idStr, role, signature := parts[0], parts[1], parts[2]

	expected := a.sign(idStr, role)
	expectedParts := strings.Split(expected, ".")
	if len(expectedParts) != 3 {
		return Identity{}, false
	}

	if !hmac.Equal([]byte(signature), []byte(expectedParts[2])) {
		return Identity{}, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Identity{}, false
	}

	switch model.Role(role) {
	case model.RoleCustomer, model.RoleProvider, model.RoleAdmin:
	default:
		return Identity{}, false
	}

	return Identity{UserID: id, Role: model.Role(role)}, true
}

// GetIdentityFromContext извлекает личность вызывающего из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
