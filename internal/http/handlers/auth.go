package handlers

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/bloghub/internal/config"
	"github.com/geocoder89/bloghub/internal/domain/job"
	"github.com/geocoder89/bloghub/internal/domain/user"
	"github.com/geocoder89/bloghub/internal/http/middlewares"
	"github.com/geocoder89/bloghub/internal/jobs"
	"github.com/geocoder89/bloghub/internal/observability"
	"github.com/geocoder89/bloghub/internal/repo/postgres"
	"github.com/geocoder89/bloghub/internal/security"
	"github.com/geocoder89/bloghub/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, username, email, passwordHash, image string, isAdmin bool) (user.User, error)
}

type JobsEnqueuer interface {
	CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
}

type AuthHandler struct {
	users UserStore
	jobs  JobsEnqueuer
	jwt   *token.Manager
	prom  *observability.Prom
	cfg   config.Config
}

func NewAuthHandler(users UserStore, jobsRepo JobsEnqueuer, jwtManager *token.Manager, prom *observability.Prom, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		users: users,
		jobs:  jobsRepo,
		jwt:   jwtManager,
		prom:  prom,
		cfg:   cfg,
	}
}

type SignUpRequest struct {
	Username string `json:"username" binding:"required,max=20,alphanum"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type FederatedRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	PhotoURL string `json:"photoUrl"`
}

func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		h.countSignup("error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	tx, err := h.users.BeginTx(cctx)

	if err != nil {
		h.countSignup("error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	u, err := h.users.CreateTx(cctx, tx, req.Username, req.Email, hash, "", false)

	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			h.countSignup("conflict")
			// 401, not 409: existing clients key on this status
			RespondError(ctx, http.StatusUnauthorized, "Email already in use", nil)
			return
		}

		h.countSignup("error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	if err := h.enqueueWelcome(cctx, tx, u); err != nil {
		h.countSignup("error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		h.countSignup("error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	// No token on direct signup: the client follows up with a signin.
	h.countSignup("ok")
	ctx.JSON(http.StatusOK, gin.H{
		"message": "User created successfully",
	})
}

func (h *AuthHandler) SignIn(ctx *gin.Context) {
	var req SignInRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.countSignin("password", "rejected")
			RespondNotFound(ctx, "User not found")
			return
		}

		h.countSignin("password", "error")
		RespondInternal(ctx, "Could not sign in")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		h.countSignin("password", "rejected")
		RespondBadRequest(ctx, "Invalid credentials", nil)
		return
	}

	if !h.issueSession(ctx, foundUser) {
		h.countSignin("password", "error")
		return
	}

	h.countSignin("password", "ok")
	ctx.JSON(http.StatusOK, foundUser.Profile())
}

// Federated handles the OAuth-provider callback. The only path where
// account creation and token issuance happen in one call: the stored
// password is a random placeholder, so a follow-up password signin would
// gain nothing.
func (h *AuthHandler) Federated(ctx *gin.Context) {
	var req FederatedRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	existing, err := h.users.GetByEmail(cctx, req.Email)

	if err == nil {
		if !h.issueSession(ctx, existing) {
			h.countSignin("federated", "error")
			return
		}

		h.countSignin("federated", "ok")
		ctx.JSON(http.StatusOK, existing.Profile())
		return
	}

	if !errors.Is(err, user.ErrNotFound) {
		h.countSignin("federated", "error")
		RespondInternal(ctx, "Could not sign in")
		return
	}

	// First contact: auto-provision a local account.

	throwaway, err := security.RandomPassword()

	if err != nil {
		h.countSignin("federated", "error")
		RespondInternal(ctx, "Could not sign in")
		return
	}

	hash, err := security.HashPassword(throwaway)

	if err != nil {
		h.countSignin("federated", "error")
		RespondInternal(ctx, "Could not sign in")
		return
	}

	tx, err := h.users.BeginTx(cctx)

	if err != nil {
		h.countSignin("federated", "error")
		RespondInternal(ctx, "Could not sign in")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	u, err := h.users.CreateTx(cctx, tx, deriveUsername(req.Name), req.Email, hash, req.PhotoURL, false)

	if err != nil {
		// A concurrent first contact may have won the insert race.
		if errors.Is(err, user.ErrEmailTaken) {
			existing, gerr := h.users.GetByEmail(cctx, req.Email)

			if gerr != nil {
				h.countSignin("federated", "error")
				RespondInternal(ctx, "Could not sign in")
				return
			}

			if !h.issueSession(ctx, existing) {
				h.countSignin("federated", "error")
				return
			}

			h.countSignin("federated", "ok")
			ctx.JSON(http.StatusOK, existing.Profile())
			return
		}

		h.countSignin("federated", "error")
		RespondInternal(ctx, "Could not sign in")
		return
	}

	if err := h.enqueueWelcome(cctx, tx, u); err != nil {
		h.countSignin("federated", "error")
		RespondInternal(ctx, "Could not sign in")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		h.countSignin("federated", "error")
		RespondInternal(ctx, "Could not sign in")
		return
	}

	if !h.issueSession(ctx, u) {
		h.countSignin("federated", "error")
		return
	}

	h.countSignin("federated", "ok")
	ctx.JSON(http.StatusOK, u.Profile())
}

// SignOut clears the session cookie. There is no server-side session
// state to tear down.
func (h *AuthHandler) SignOut(ctx *gin.Context) {
	h.clearSessionCookie(ctx)

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Signed out successfully",
	})
}

// Helper functions

// issueSession mints the token and sets the cookie. Responds with the
// error itself on failure and returns false so callers short-circuit.
func (h *AuthHandler) issueSession(ctx *gin.Context, u user.User) bool {
	raw, err := h.jwt.Generate(u.ID, u.IsAdmin)

	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return false
	}

	h.setSessionCookie(ctx, raw)
	return true
}

func (h *AuthHandler) enqueueWelcome(ctx context.Context, tx pgx.Tx, u user.User) error {
	payload := jobs.UserWelcomePayload{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		RequestedAt: time.Now().UTC(),
	}

	raw, err := payload.JSON()

	if err != nil {
		return err
	}

	key := jobs.WelcomeIdempotencyKey(u.ID)
	uid := u.ID

	_, err = h.jobs.CreateTx(ctx, tx, job.CreateRequest{
		Type:           jobs.TypeUserWelcome,
		Payload:        raw,
		RunAt:          time.Now().UTC(),
		MaxAttempts:    10,
		IdempotencyKey: &key,
		UserID:         &uid,
	})

	if err != nil {
		// duplicate idempotency key: the welcome is already queued
		if postgres.IsUniqueViolation(err) {
			return nil
		}
		return err
	}

	return nil
}

func (h *AuthHandler) setSessionCookie(ctx *gin.Context, raw string) {
	secure := h.cfg.Env == "prod"

	maxAge := int(h.jwt.TTL().Seconds())

	ctx.SetSameSite(http.SameSiteLaxMode)

	ctx.SetCookie(
		middlewares.SessionCookie,
		raw,
		maxAge,
		"/",
		"",
		secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearSessionCookie(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(
		middlewares.SessionCookie,
		"",
		-1,
		"/",
		"",
		secure,
		true,
	)
}

// deriveUsername lowercases the display name, strips spaces and appends a
// random 4-digit suffix. Collisions are tolerated: username is not a
// unique key.
func deriveUsername(name string) string {
	base := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))

	if base == "" {
		base = "user"
	}

	return base + strconv.Itoa(1000+rand.Intn(9000))
}

func (h *AuthHandler) countSignup(result string) {
	if h.prom != nil {
		h.prom.SignupsTotal.WithLabelValues(result).Inc()
	}
}

func (h *AuthHandler) countSignin(flow, result string) {
	if h.prom != nil {
		h.prom.SigninsTotal.WithLabelValues(flow, result).Inc()
	}
}
