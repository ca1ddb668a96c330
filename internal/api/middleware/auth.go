// auth.go — аутентификация Auction Module.
// Две независимые схемы:
//   - участники торгов: Bearer JWT (HS256), bidder id берётся из claim sub;
//   - административные операции: статический ключ в заголовке Admin-Api-Key.
package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goauction/auction-module/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyBidder — идентификатор участника в контексте запроса.
	ContextKeyBidder contextKey = "bidder_id"
)

// AdminKeyHeader — заголовок административного ключа.
const AdminKeyHeader = "Admin-Api-Key"

// bidderClaims — claims JWT участника торгов.
type bidderClaims struct {
	jwt.RegisteredClaims
}

// BidderAuth — middleware аутентификации участников по JWT.
type BidderAuth struct {
	secret []byte
	leeway time.Duration
	logger *slog.Logger
}

// NewBidderAuth создаёт JWT middleware участников.
// secret — общий секрет подписи HS256 (AU_JWT_SECRET).
func NewBidderAuth(secret string, logger *slog.Logger) *BidderAuth {
	return &BidderAuth{
		secret: []byte(secret),
		leeway: 30 * time.Second,
		logger: logger.With(slog.String("component", "bidder_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации участника.
// Извлекает Bearer token, валидирует подпись (HS256), помещает sub в контекст.
func (b *BidderAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			claims := &bidderClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims,
				func(_ *jwt.Token) (interface{}, error) { return b.secret, nil },
				jwt.WithValidMethods([]string{"HS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(b.leeway),
			)
			if err != nil {
				b.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyBidder, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BidderFromContext извлекает идентификатор участника из контекста запроса.
// Возвращает пустую строку, если аутентификация не проводилась.
func BidderFromContext(ctx context.Context) string {
	bidder, _ := ctx.Value(ContextKeyBidder).(string)
	return bidder
}

// RequireAdminKey возвращает middleware, пропускающий запросы
// с корректным административным ключом в заголовке Admin-Api-Key.
// Отсутствие заголовка — 401, несовпадение — 403.
func RequireAdminKey(adminKey string) func(http.Handler) http.Handler {
	expected := []byte(adminKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminKeyHeader)
			if got == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок "+AdminKeyHeader)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				apierrors.Forbidden(w, "Неверный административный ключ")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
