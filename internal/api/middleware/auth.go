// auth.go — middleware аутентификации по API-ключу.
// Защищённые endpoints требуют заголовок X-API-Key, совпадающий с
// ключом из конфигурации. Пустой ключ в конфигурации отключает
// проверку (доверенная локальная сеть бокса).
// Публичные endpoints (health, version, metrics) — без аутентификации.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	apierrors "github.com/sevalab/boxd/internal/api/errors"
)

// APIKeyAuth — middleware для проверки API-ключа.
type APIKeyAuth struct {
	key    string
	logger *slog.Logger
}

// NewAPIKeyAuth создаёт middleware. Пустой ключ — проверка отключена.
func NewAPIKeyAuth(key string, logger *slog.Logger) *APIKeyAuth {
	return &APIKeyAuth{
		key:    key,
		logger: logger.With(slog.String("component", "api_auth")),
	}
}

// Middleware возвращает HTTP middleware, проверяющий заголовок X-API-Key.
// Сравнение ключей выполняется за постоянное время.
func (a *APIKeyAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.key == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get("X-API-Key")
			if got == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок X-API-Key")
				return
			}

			if subtle.ConstantTimeCompare([]byte(got), []byte(a.key)) != 1 {
				a.logger.Debug("неверный API-ключ",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("path", r.URL.Path),
				)
				apierrors.Unauthorized(w, "Неверный API-ключ")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
