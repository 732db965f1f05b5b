package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/bloghub/internal/domain/job"
	"github.com/geocoder89/bloghub/internal/http/handlers"
	"github.com/geocoder89/bloghub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
)

type fakeAdminJobsRepo struct {
	listCursorFn      func(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]job.Job, *string, bool, error)
	getByIDFn         func(ctx context.Context, id string) (job.Job, error)
	retryFn           func(ctx context.Context, id string) error
	retryManyFailedFn func(ctx context.Context, limit int) (int64, error)
}

func (f *fakeAdminJobsRepo) ListCursor(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]job.Job, *string, bool, error) {
	if f.listCursorFn != nil {
		return f.listCursorFn(ctx, status, limit, afterUpdatedAt, afterID)
	}
	return nil, nil, false, nil
}

func (f *fakeAdminJobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return job.Job{}, job.ErrJobNotFound
}

func (f *fakeAdminJobsRepo) Retry(ctx context.Context, id string) error {
	if f.retryFn != nil {
		return f.retryFn(ctx, id)
	}
	return job.ErrJobNotFound
}

func (f *fakeAdminJobsRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	if f.retryManyFailedFn != nil {
		return f.retryManyFailedFn(ctx, limit)
	}
	return 0, nil
}

func adminRouter(repo *fakeAdminJobsRepo) *gin.Engine {
	h := handlers.NewAdminJobsHandler(repo)
	r := gin.New()
	r.GET("/admin/jobs", h.List)
	r.GET("/admin/jobs/:id", h.GetByID)
	r.POST("/admin/jobs/:id/retry", h.Retry)
	r.POST("/admin/jobs/reprocess-dead", h.ReprocessDead)
	return r
}

func TestAdminJobsListFiltersByStatus(t *testing.T) {
	var gotStatus *string
	var gotLimit int

	repo := &fakeAdminJobsRepo{
		listCursorFn: func(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]job.Job, *string, bool, error) {
			gotStatus = status
			gotLimit = limit
			return []job.Job{{ID: newUUID(), Type: "user.welcome", Status: job.StatusFailed}}, nil, false, nil
		},
	}
	r := adminRouter(repo)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/jobs?status=failed&limit=5", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}
	if gotStatus == nil || *gotStatus != "failed" {
		t.Fatalf("status filter not passed through: %v", gotStatus)
	}
	if gotLimit != 5 {
		t.Fatalf("limit not passed through: %d", gotLimit)
	}

	var resp struct {
		Count   int  `json:"count"`
		HasMore bool `json:"hasMore"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.HasMore {
		t.Fatalf("unexpected page: %+v", resp)
	}
}

func TestAdminJobsListRejectsBadInput(t *testing.T) {
	r := adminRouter(&fakeAdminJobsRepo{})

	tests := []string{
		"/admin/jobs?limit=0",
		"/admin/jobs?limit=500",
		"/admin/jobs?cursor=not-a-cursor",
	}

	for _, path := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: got status %d, want 400", path, w.Code)
		}
	}
}

func TestAdminJobsRetry(t *testing.T) {
	id := newUUID()

	tests := []struct {
		name     string
		retryErr error
		want     int
	}{
		{"failed job requeues", nil, http.StatusOK},
		{"unknown job", job.ErrJobNotFound, http.StatusNotFound},
		{"job not failed", postgres.ErrJobNotFailed, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeAdminJobsRepo{
				retryFn: func(ctx context.Context, gotID string) error {
					return tt.retryErr
				},
			}
			r := adminRouter(repo)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/jobs/"+id+"/retry", nil))

			if w.Code != tt.want {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAdminJobsReprocessDead(t *testing.T) {
	repo := &fakeAdminJobsRepo{
		retryManyFailedFn: func(ctx context.Context, limit int) (int64, error) {
			return 7, nil
		},
	}
	r := adminRouter(repo)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/jobs/reprocess-dead?limit=50", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Requeued int64 `json:"requeued"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Requeued != 7 {
		t.Fatalf("expected requeued=7, got %d", resp.Requeued)
	}
}
