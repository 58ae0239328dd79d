// internal/response/response.go
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/davidshare/ObservaShop/internal/autherr"
)

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// JSON пишет успешный ответ.
func JSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	res := errorBody{}
	res.Error.Code = code
	res.Error.Message = msg
	_ = json.NewEncoder(w).Encode(res)
}

func BadRequest(w http.ResponseWriter, msg string)   { writeError(w, http.StatusBadRequest, msg) }
func Unauthorized(w http.ResponseWriter, msg string) { writeError(w, http.StatusUnauthorized, msg) }
func Forbidden(w http.ResponseWriter, msg string)    { writeError(w, http.StatusForbidden, msg) }
func Conflict(w http.ResponseWriter, msg string)     { writeError(w, http.StatusConflict, msg) }
func Unavailable(w http.ResponseWriter, msg string)  { writeError(w, http.StatusServiceUnavailable, msg) }
func InternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, msg)
}

// FromError отображает доменную ошибку на HTTP-статус. Все отказы
// аутентификации дают один и тот же 401-ответ: тело не различает
// "нет пользователя", "неверный пароль" и судьбу токена.
func FromError(w http.ResponseWriter, err error) {
	switch {
	case autherr.IsAuthFailure(err):
		Unauthorized(w, "unauthorized")
	case errors.Is(err, autherr.ErrForbidden):
		Forbidden(w, "forbidden")
	case errors.Is(err, autherr.ErrUnknownPermission):
		BadRequest(w, "unknown permission")
	case errors.Is(err, autherr.ErrUserExists):
		Conflict(w, "user already exists")
	case errors.Is(err, autherr.ErrDependencyUnavailable):
		Unavailable(w, "temporarily unavailable")
	default:
		InternalError(w, "internal error")
	}
}
