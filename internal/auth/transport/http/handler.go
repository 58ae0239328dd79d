// auth/internal/transport/http/handler.go
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/auth/storage/postgres"
	"github.com/davidshare/ObservaShop/internal/auth/usecase"
	"github.com/davidshare/ObservaShop/internal/response"
)

type Handler struct {
	uc   usecase.Handler
	rbac postgres.RBACRepository
	log  *logger.Logger
}

func NewHandler(uc usecase.Handler, rbac postgres.RBACRepository, log *logger.Logger) *Handler {
	return &Handler{uc: uc, rbac: rbac, log: log.Named("http")}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}

	pair, err := h.uc.Login.Handle(r.Context(), usecase.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}

	userID, err := h.uc.Register.Handle(r.Context(), usecase.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, map[string]string{"user_id": userID})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}

	pair, err := h.uc.Refresh.Handle(r.Context(), req.RefreshToken)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}

	if err := h.uc.Logout.Handle(r.Context(), req.RefreshToken, req.AccessToken); err != nil {
		response.FromError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type permissionsResponse struct {
	Permissions []string `json:"permissions"`
}

// Permissions — внутренний read-side для policy evaluator'ов gateway'я.
// Маршрут не выходит за пределы сервисной сети.
func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		response.BadRequest(w, "user id is required")
		return
	}

	perms, err := h.rbac.PermissionsOf(r.Context(), userID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	response.JSON(w, http.StatusOK, permissionsResponse{Permissions: perms})
}

type grantRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req grantRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if userID == "" || req.Role == "" {
		response.BadRequest(w, "user id and role are required")
		return
	}

	if err := h.uc.Roles.GrantRole(r.Context(), userID, req.Role); err != nil {
		response.FromError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	role := chi.URLParam(r, "role")
	if userID == "" || role == "" {
		response.BadRequest(w, "user id and role are required")
		return
	}

	if err := h.uc.Roles.RevokeRole(r.Context(), userID, role); err != nil {
		response.FromError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (h *Handler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	var req setPermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if role == "" {
		response.BadRequest(w, "role is required")
		return
	}

	if err := h.uc.Roles.SetRolePermissions(r.Context(), role, req.Permissions); err != nil {
		response.FromError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
