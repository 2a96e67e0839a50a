// auth.go — JWT middleware для административных endpoints.
// Принимает HS256 токены, выпущенные модулем при входе администратора,
// и, если настроен внешний JWKS, RS256 токены внешнего издателя.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
	"github.com/bigkaa/goartstore/share-module/internal/security"
)

// contextKey — тип для ключей контекста.
type contextKey string

// ContextKeySubject — sub токена администратора в контексте запроса.
const ContextKeySubject contextKey = "admin_subject"

// jwksRefreshInterval — период обновления ключей внешнего JWKS.
const jwksRefreshInterval = 15 * time.Minute

var errNoKey = errors.New("нет ключа для алгоритма токена")

// ExternalIssuer — внешний издатель RS256 токенов администратора.
type ExternalIssuer struct {
	// JWKSURL — адрес ключей; пусто — RS256 не принимаются
	JWKSURL string
	// Issuer — ожидаемый iss, обязателен вместе с JWKSURL
	Issuer string
	// Audience — ожидаемый aud; пусто — не проверяется
	Audience string
}

// AdminAuth — middleware аутентификации администратора.
type AdminAuth struct {
	secret   []byte
	jwks     keyfunc.Keyfunc
	external ExternalIssuer
	leeway   time.Duration
	logger   *slog.Logger
}

// NewAdminAuth создаёт middleware. secret задаёт ключ HS256 (если пусто, собственные
// токены не принимаются), ext описывает внешний JWKS (если JWKSURL пуст, без RS256).
func NewAdminAuth(secret string, ext ExternalIssuer, leeway time.Duration, logger *slog.Logger) (*AdminAuth, error) {
	var kf keyfunc.Keyfunc
	if jwksURL := ext.JWKSURL; jwksURL != "" {
		if ext.Issuer == "" {
			return nil, errors.New("для внешнего JWKS требуется ожидаемый issuer")
		}
		// NoErrorReturnFirstHTTPReq — стартуем, даже если издатель ещё недоступен
		storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           jwksRefreshInterval,
			RefreshErrorHandler: func(_ context.Context, err error) {
				logger.Error("Ошибка обновления JWKS",
					slog.String("error", err.Error()),
					slog.String("url", jwksURL),
				)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("создание JWKS storage: %w", err)
		}
		kf, err = keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("создание keyfunc: %w", err)
		}
	}
	return NewAdminAuthWithKeyfunc(secret, kf, ext, leeway, logger), nil
}

// NewAdminAuthWithKeyfunc создаёт middleware с предоставленной keyfunc.
// Используется в тестах для подстановки JWKS.
func NewAdminAuthWithKeyfunc(
	secret string,
	kf keyfunc.Keyfunc,
	ext ExternalIssuer,
	leeway time.Duration,
	logger *slog.Logger,
) *AdminAuth {
	return &AdminAuth{
		secret:   []byte(secret),
		jwks:     kf,
		external: ext,
		leeway:   leeway,
		logger:   logger.With(slog.String("component", "admin_auth")),
	}
}

// Enabled сообщает, принимаются ли какие-либо токены.
func (a *AdminAuth) Enabled() bool {
	return len(a.secret) > 0 || a.jwks != nil
}

// Middleware возвращает HTTP middleware проверки Bearer токена.
func (a *AdminAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			subject, err := a.validate(r.Context(), parts[1])
			if err != nil {
				a.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validate проверяет подпись и срок токена и возвращает sub.
func (a *AdminAuth) validate(ctx context.Context, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			if len(a.secret) == 0 {
				return nil, errNoKey
			}
			return a.secret, nil
		case jwt.SigningMethodRS256.Alg():
			if a.jwks == nil {
				return nil, errNoKey
			}
			return a.jwks.KeyfuncCtx(ctx)(t)
		}
		return nil, errNoKey
	},
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("невалидный токен")
	}

	if err := jwt.NewValidator(a.claimOptions(token.Method.Alg())...).Validate(claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("отсутствует sub в токене")
	}
	return claims.Subject, nil
}

// claimOptions — требования к iss и aud: собственные токены несут issuer
// модуля, внешние проверяются по настройкам ExternalIssuer.
func (a *AdminAuth) claimOptions(alg string) []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithLeeway(a.leeway)}
	if alg == jwt.SigningMethodHS256.Alg() {
		return append(opts, jwt.WithIssuer(security.AdminTokenIssuer))
	}
	if a.external.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.external.Issuer))
	}
	if a.external.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.external.Audience))
	}
	return opts
}

// SubjectFromContext извлекает sub администратора из контекста запроса.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ContextKeySubject).(string)
	return s
}
