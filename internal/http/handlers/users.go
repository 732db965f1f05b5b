package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/geocoder89/bloghub/internal/cache"
	"github.com/geocoder89/bloghub/internal/config"
	"github.com/geocoder89/bloghub/internal/domain/user"
	"github.com/geocoder89/bloghub/internal/http/middlewares"
	"github.com/geocoder89/bloghub/internal/security"
	"github.com/geocoder89/bloghub/internal/utils"
	"github.com/gin-gonic/gin"
)

type UsersRepository interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	Update(ctx context.Context, id string, req user.UpdateRequest) (user.User, error)
	Delete(ctx context.Context, id string) error
}

type UsersHandler struct {
	repo  UsersRepository
	store cache.Store
}

func NewUsersHandler(repo UsersRepository, store cache.Store) *UsersHandler {
	return &UsersHandler{repo: repo, store: store}
}

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

type UpdateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password"`
	Image    *string `json:"image"`
}

// GET /user/:userId
//
// Public sanitized profile, cache-aside over the store. Cached bytes are
// the marshalled Profile, so a hit can never leak the hash.
func (h *UsersHandler) GetUser(ctx *gin.Context) {
	id := ctx.Param("userId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "user id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	key := cache.ProfileKey(id)

	if h.store != nil {
		if raw, err := h.store.Get(cctx, key); err == nil {
			var p user.Profile

			if err := json.Unmarshal(raw, &p); err == nil {
				RespondJSONWithETag(ctx, http.StatusOK, p)
				return
			}
			// corrupt entry: fall through to the DB and overwrite it
		}
	}

	u, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not fetch user")
		return
	}

	profile := u.Profile()

	if h.store != nil {
		if raw, err := json.Marshal(profile); err == nil {
			_ = h.store.Set(cctx, key, raw)
		}
	}

	RespondJSONWithETag(ctx, http.StatusOK, profile)
}

// PUT /user/update/:userId
func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	id := ctx.Param("userId")

	callerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || callerID == "" {
		RespondUnauthorized(ctx, "Unauthorized")
		return
	}

	// Owner only. The admin flag does not bypass profile updates.
	if callerID != id {
		RespondForbidden(ctx, "You are not allowed to update this user")
		return
	}

	var req UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	update := user.UpdateRequest{
		Username: req.Username,
		Email:    req.Email,
		Image:    req.Image,
	}

	if req.Username != nil {
		if len(*req.Username) == 0 || len(*req.Username) > 20 {
			RespondBadRequest(ctx, "Username must be between 1 and 20 characters", nil)
			return
		}

		if !usernameRe.MatchString(*req.Username) {
			RespondBadRequest(ctx, "Username cannot contain special characters", nil)
			return
		}
	}

	if req.Password != nil {
		if len(*req.Password) < 6 {
			RespondBadRequest(ctx, "Password must be at least 6 characters", nil)
			return
		}

		hash, err := security.HashPassword(*req.Password)

		if err != nil {
			RespondInternal(ctx, "Could not update user")
			return
		}

		update.PasswordHash = &hash
	}

	if update.Empty() {
		RespondBadRequest(ctx, "No fields to update", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	updated, err := h.repo.Update(cctx, id, update)

	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "User not found")
		case errors.Is(err, user.ErrEmailTaken):
			RespondError(ctx, http.StatusUnauthorized, "Email already in use", nil)
		default:
			RespondInternal(ctx, "Could not update user")
		}
		return
	}

	h.invalidate(cctx, id)

	ctx.JSON(http.StatusOK, updated.Profile())
}

// DELETE /user/delete/:userId
func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	id := ctx.Param("userId")

	callerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || callerID == "" {
		RespondUnauthorized(ctx, "Unauthorized")
		return
	}

	// Admins may remove any account; everyone else only their own.
	if callerID != id && !middlewares.IsAdminFromContext(ctx) {
		RespondForbidden(ctx, "You are not allowed to delete this user")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.repo.Delete(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not delete user")
		return
	}

	h.invalidate(cctx, id)

	ctx.JSON(http.StatusOK, gin.H{
		"message": "User has been deleted",
	})
}

func (h *UsersHandler) invalidate(ctx context.Context, id string) {
	if h.store != nil {
		_ = h.store.Delete(ctx, cache.ProfileKey(id))
	}
}
