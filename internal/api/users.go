package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/storefront/checkout-api/internal/middleware"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/services"
)

// UserList is a page of accounts
type UserList struct {
	Users      []models.User     `json:"users"`
	Pagination models.Pagination `json:"pagination"`
}

// UserStatusRequest is the body of PATCH /users/{id}/status
type UserStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

// ListUsersHandler handles GET /api/v1/users
func (a *App) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.UserFilter{
		Page:   pageFromQuery(r),
		Search: q.Get("search"),
		Role:   models.Role(q.Get("role")),
	}
	users, page, err := a.userService.ListUsers(r.Context(), middleware.ActorFrom(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, UserList{Users: users, Pagination: page})
}

// GetUserHandler handles GET /api/v1/users/{id}
func (a *App) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	u, err := a.userService.LookupUser(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateUserHandler handles POST /api/v1/users
func (a *App) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req services.CreateUserInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := a.userService.CreateUser(r.Context(), middleware.ActorFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// UpdateUserHandler handles PUT /api/v1/users/{id}
func (a *App) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req services.UpdateUserInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := a.userService.UpdateUser(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SetUserStatusHandler handles PATCH /api/v1/users/{id}/status
func (a *App) SetUserStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req UserStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IsActive == nil {
		writeError(w, r, services.Invalid("is_active", "is required"))
		return
	}

	u, err := a.userService.SetActive(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"], *req.IsActive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DeleteUserHandler handles DELETE /api/v1/users/{id}
func (a *App) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.userService.DeleteUser(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// UserOverviewHandler handles GET /api/v1/users/stats/overview
func (a *App) UserOverviewHandler(w http.ResponseWriter, r *http.Request) {
	overview, err := a.reportService.UserOverview(r.Context(), middleware.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// UpdateProfileHandler handles PUT /api/v1/auth/profile
func (a *App) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req services.ProfileInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := a.userService.UpdateProfile(r.Context(), middleware.ActorFrom(r.Context()).UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*models.User{"user": u})
}
