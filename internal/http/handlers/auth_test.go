package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/bloghub/internal/config"
	"github.com/geocoder89/bloghub/internal/domain/job"
	"github.com/geocoder89/bloghub/internal/domain/user"
	"github.com/geocoder89/bloghub/internal/http/handlers"
	"github.com/geocoder89/bloghub/internal/http/middlewares"
	"github.com/geocoder89/bloghub/internal/security"
	"github.com/geocoder89/bloghub/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

func newUUID() string {
	return uuid.NewString()
}

// fakeTx satisfies pgx.Tx for the two methods the handlers touch; the
// embedded nil interface panics loudly if anything else gets called.

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

// Fake repository implementations of the handlers.UserStore interface

type fakeUserStore struct {
	tx           *fakeTx
	getByEmailFn func(ctx context.Context, email string) (user.User, error)
	createTxFn   func(ctx context.Context, tx pgx.Tx, username, email, passwordHash, image string, isAdmin bool) (user.User, error)
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (user.User, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}
	return user.User{}, user.ErrNotFound
}

func (f *fakeUserStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if f.tx == nil {
		f.tx = &fakeTx{}
	}
	return f.tx, nil
}

func (f *fakeUserStore) CreateTx(ctx context.Context, tx pgx.Tx, username, email, passwordHash, image string, isAdmin bool) (user.User, error) {
	if f.createTxFn != nil {
		return f.createTxFn(ctx, tx, username, email, passwordHash, image, isAdmin)
	}
	now := time.Now().UTC()
	return user.User{
		ID:           newUUID(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Image:        image,
		IsAdmin:      isAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

type fakeJobsEnqueuer struct {
	createTxFn func(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
	created    []job.CreateRequest
}

func (f *fakeJobsEnqueuer) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	f.created = append(f.created, req)
	if f.createTxFn != nil {
		return f.createTxFn(ctx, tx, req)
	}
	return job.New(req), nil
}

func testAuthHandler(t *testing.T, users *fakeUserStore, jobsRepo *fakeJobsEnqueuer) *handlers.AuthHandler {
	t.Helper()
	jwtManager := token.NewManager("test-secret", 7*24*time.Hour)
	cfg := config.Config{Env: "test", JWTSecret: "test-secret", JWTTTLDays: 7}
	return handlers.NewAuthHandler(users, jobsRepo, jwtManager, nil, cfg)
}

func postJSON(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(res *http.Response) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == middlewares.SessionCookie {
			return c
		}
	}
	return nil
}

func TestSignUpCreatesUserWithoutToken(t *testing.T) {
	users := &fakeUserStore{}
	jobsRepo := &fakeJobsEnqueuer{}
	h := testAuthHandler(t, users, jobsRepo)

	r := gin.New()
	r.POST("/auth/signup", h.SignUp)

	w := postJSON(t, r, "/auth/signup", `{"username":"alice","email":"alice@example.com","password":"secret123"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Message != "User created successfully" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}

	// signup must not hand out a session
	if c := sessionCookie(w.Result()); c != nil {
		t.Fatalf("expected no session cookie, got %q", c.Value)
	}

	if !users.tx.committed {
		t.Fatal("expected transaction committed")
	}
	if len(jobsRepo.created) != 1 {
		t.Fatalf("expected one welcome job enqueued, got %d", len(jobsRepo.created))
	}
	if jobsRepo.created[0].IdempotencyKey == nil {
		t.Fatal("expected welcome job to carry an idempotency key")
	}
}

func TestSignUpStoresHashNotPassword(t *testing.T) {
	var storedHash string
	users := &fakeUserStore{
		createTxFn: func(ctx context.Context, tx pgx.Tx, username, email, passwordHash, image string, isAdmin bool) (user.User, error) {
			storedHash = passwordHash
			return user.User{ID: newUUID(), Username: username, Email: email, PasswordHash: passwordHash}, nil
		},
	}
	h := testAuthHandler(t, users, &fakeJobsEnqueuer{})

	r := gin.New()
	r.POST("/auth/signup", h.SignUp)

	w := postJSON(t, r, "/auth/signup", `{"username":"alice","email":"alice@example.com","password":"secret123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	if storedHash == "" || storedHash == "secret123" {
		t.Fatalf("expected bcrypt hash stored, got %q", storedHash)
	}
	if err := security.CheckPassword(storedHash, "secret123"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	users := &fakeUserStore{
		createTxFn: func(ctx context.Context, tx pgx.Tx, username, email, passwordHash, image string, isAdmin bool) (user.User, error) {
			return user.User{}, user.ErrEmailTaken
		},
	}
	h := testAuthHandler(t, users, &fakeJobsEnqueuer{})

	r := gin.New()
	r.POST("/auth/signup", h.SignUp)

	w := postJSON(t, r, "/auth/signup", `{"username":"alice","email":"taken@example.com","password":"secret123"}`)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Success    bool   `json:"success"`
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Success || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.Message != "Email already in use" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
}

func TestSignUpValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing username", `{"email":"a@example.com","password":"pw"}`},
		{"missing email", `{"username":"alice","password":"pw"}`},
		{"missing password", `{"username":"alice","email":"a@example.com"}`},
		{"bad email", `{"username":"alice","email":"not-an-email","password":"pw"}`},
		{"username too long", `{"username":"aaaaaaaaaaaaaaaaaaaaa","email":"a@example.com","password":"pw"}`},
		{"username not alphanumeric", `{"username":"al ice!","email":"a@example.com","password":"pw"}`},
	}

	h := testAuthHandler(t, &fakeUserStore{}, &fakeJobsEnqueuer{})
	r := gin.New()
	r.POST("/auth/signup", h.SignUp)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, r, "/auth/signup", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("got status %d, want 400, body=%s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSignInHappyPath(t *testing.T) {
	hash, err := security.HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	stored := user.User{
		ID:           newUUID(),
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
	}

	users := &fakeUserStore{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			if email == stored.Email {
				return stored, nil
			}
			return user.User{}, user.ErrNotFound
		},
	}
	h := testAuthHandler(t, users, &fakeJobsEnqueuer{})

	r := gin.New()
	r.POST("/auth/signin", h.SignIn)

	w := postJSON(t, r, "/auth/signin", `{"email":"alice@example.com","password":"secret123"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	// sanitized body: no password hash field at all
	if strings.Contains(w.Body.String(), hash) {
		t.Fatal("response leaked the password hash")
	}

	var resp struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != stored.ID || resp.Email != stored.Email {
		t.Fatalf("unexpected profile: %+v", resp)
	}

	c := sessionCookie(w.Result())
	if c == nil {
		t.Fatal("expected session cookie")
	}
	if !c.HttpOnly {
		t.Fatal("session cookie must be HTTP-only")
	}
	if c.Value == "" {
		t.Fatal("session cookie must carry the token")
	}
	if c.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
		t.Fatalf("unexpected cookie max-age: %d", c.MaxAge)
	}

	// the cookie value is a verifiable token for the signed-in user
	claims, err := token.NewManager("test-secret", 7*24*time.Hour).Verify(c.Value)
	if err != nil {
		t.Fatalf("cookie token does not verify: %v", err)
	}
	if claims.UserID != stored.ID {
		t.Fatalf("token subject mismatch: %s", claims.UserID)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	h := testAuthHandler(t, &fakeUserStore{}, &fakeJobsEnqueuer{})
	r := gin.New()
	r.POST("/auth/signin", h.SignIn)

	w := postJSON(t, r, "/auth/signin", `{"email":"ghost@example.com","password":"whatever"}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404, body=%s", w.Code, w.Body.String())
	}
	if c := sessionCookie(w.Result()); c != nil {
		t.Fatal("failed signin must not set a cookie")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	hash, err := security.HashPassword("right-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	users := &fakeUserStore{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			return user.User{ID: newUUID(), Email: email, PasswordHash: hash}, nil
		},
	}
	h := testAuthHandler(t, users, &fakeJobsEnqueuer{})
	r := gin.New()
	r.POST("/auth/signin", h.SignIn)

	w := postJSON(t, r, "/auth/signin", `{"email":"alice@example.com","password":"wrong-password"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Message != "Invalid credentials" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
	if c := sessionCookie(w.Result()); c != nil {
		t.Fatal("failed signin must not set a cookie")
	}
}

func TestFederatedExistingUserSignsIn(t *testing.T) {
	stored := user.User{
		ID:           newUUID(),
		Username:     "alice1234",
		Email:        "alice@example.com",
		PasswordHash: "some-hash",
	}

	created := false
	users := &fakeUserStore{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			return stored, nil
		},
		createTxFn: func(ctx context.Context, tx pgx.Tx, username, email, passwordHash, image string, isAdmin bool) (user.User, error) {
			created = true
			return user.User{}, errors.New("must not create")
		},
	}
	h := testAuthHandler(t, users, &fakeJobsEnqueuer{})
	r := gin.New()
	r.POST("/auth/federated", h.Federated)

	w := postJSON(t, r, "/auth/federated", `{"email":"alice@example.com","name":"Alice Doe","photoUrl":"https://img.example.com/a.png"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}
	if created {
		t.Fatal("existing federated user must not be re-created")
	}
	if c := sessionCookie(w.Result()); c == nil {
		t.Fatal("expected session cookie")
	}
}

func TestFederatedFirstContactProvisionsAccount(t *testing.T) {
	var gotUsername, gotHash, gotImage string

	users := &fakeUserStore{
		createTxFn: func(ctx context.Context, tx pgx.Tx, username, email, passwordHash, image string, isAdmin bool) (user.User, error) {
			gotUsername = username
			gotHash = passwordHash
			gotImage = image
			return user.User{ID: newUUID(), Username: username, Email: email, PasswordHash: passwordHash, Image: image}, nil
		},
	}
	jobsRepo := &fakeJobsEnqueuer{}
	h := testAuthHandler(t, users, jobsRepo)
	r := gin.New()
	r.POST("/auth/federated", h.Federated)

	w := postJSON(t, r, "/auth/federated", `{"email":"new@example.com","name":"Jane Q Doe","photoUrl":"https://img.example.com/j.png"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	// derived username: lowercase, no spaces, 4-digit suffix
	if !strings.HasPrefix(gotUsername, "janeqdoe") {
		t.Fatalf("unexpected derived username: %q", gotUsername)
	}
	suffix := strings.TrimPrefix(gotUsername, "janeqdoe")
	if len(suffix) != 4 {
		t.Fatalf("expected 4-digit suffix, got %q", suffix)
	}

	// throwaway password is stored hashed, never in the clear
	if gotHash == "" || !strings.HasPrefix(gotHash, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", gotHash)
	}
	if gotImage != "https://img.example.com/j.png" {
		t.Fatalf("expected photo carried over, got %q", gotImage)
	}

	if !users.tx.committed {
		t.Fatal("expected provisioning transaction committed")
	}
	if len(jobsRepo.created) != 1 {
		t.Fatalf("expected one welcome job, got %d", len(jobsRepo.created))
	}

	if c := sessionCookie(w.Result()); c == nil {
		t.Fatal("federated first contact must sign the user in")
	}
}

func TestFederatedLosesInsertRace(t *testing.T) {
	winner := user.User{ID: newUUID(), Username: "winner", Email: "race@example.com", PasswordHash: "h"}

	calls := 0
	users := &fakeUserStore{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			calls++
			if calls == 1 {
				return user.User{}, user.ErrNotFound
			}
			return winner, nil
		},
		createTxFn: func(ctx context.Context, tx pgx.Tx, username, email, passwordHash, image string, isAdmin bool) (user.User, error) {
			return user.User{}, user.ErrEmailTaken
		},
	}
	h := testAuthHandler(t, users, &fakeJobsEnqueuer{})
	r := gin.New()
	r.POST("/auth/federated", h.Federated)

	w := postJSON(t, r, "/auth/federated", `{"email":"race@example.com","name":"Racer"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != winner.ID {
		t.Fatalf("expected the winning row, got %+v", resp)
	}
	if c := sessionCookie(w.Result()); c == nil {
		t.Fatal("race loser must still sign the user in")
	}
}

func TestSignOutClearsCookie(t *testing.T) {
	h := testAuthHandler(t, &fakeUserStore{}, &fakeJobsEnqueuer{})
	r := gin.New()
	r.POST("/auth/signout", h.SignOut)

	req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	req.AddCookie(&http.Cookie{Name: middlewares.SessionCookie, Value: "some-token"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	c := sessionCookie(w.Result())
	if c == nil {
		t.Fatal("expected clearing cookie in response")
	}
	if c.Value != "" || c.MaxAge >= 0 {
		t.Fatalf("expected expired empty cookie, got value=%q maxAge=%d", c.Value, c.MaxAge)
	}
}
