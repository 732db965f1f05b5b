package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/bloghub/internal/cache"
	"github.com/geocoder89/bloghub/internal/config"
	"github.com/geocoder89/bloghub/internal/http/handlers"
	"github.com/geocoder89/bloghub/internal/http/middlewares"
	"github.com/geocoder89/bloghub/internal/observability"
	"github.com/geocoder89/bloghub/internal/repo/postgres"
	"github.com/geocoder89/bloghub/internal/token"
)

func NewRouter(
	cfg config.Config,
	pool *pgxpool.Pool,
	store cache.Store,
	prom *observability.Prom,
	reg *prometheus.Registry,
) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(1 << 20)) // 1 MiB
	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
	}
	if cfg.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("bloghub-api"))
	}

	// health: not ready unless both the DB and the cache answer
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
		}

		if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
			return pinger.Ping(ctx)
		}
		return nil
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	jwtManager := token.NewManager(cfg.JWTSecret, cfg.TokenTTL())
	auth := middlewares.NewAuthMiddleware(jwtManager)

	authHandler := handlers.NewAuthHandler(usersRepo, jobsRepo, jwtManager, prom, cfg)
	usersHandler := handlers.NewUsersHandler(usersRepo, store)
	adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)

	// credential endpoints get a tighter rate limit than the rest
	authLimiter := middlewares.NewRateLimiter(10, time.Minute)

	authGroup := r.Group("/auth")
	authGroup.Use(authLimiter.RateLimiterMiddleware(middlewares.KeyByIP))
	{
		authGroup.POST("/signup", authHandler.SignUp)
		authGroup.POST("/signin", authHandler.SignIn)
		authGroup.POST("/federated", authHandler.Federated)
	}
	// signout needs the session cookie to exist before clearing it
	r.POST("/auth/signout", auth.RequireAuth(), authHandler.SignOut)

	// user resource: reads are public, writes belong to their owner
	r.GET("/user/:userId", usersHandler.GetUser)
	userGroup := r.Group("/user")
	userGroup.Use(auth.RequireAuth())
	{
		userGroup.PUT("/update/:userId", usersHandler.UpdateUser)
		userGroup.DELETE("/delete/:userId", usersHandler.DeleteUser)
	}

	adminGroup := r.Group("/admin")
	adminGroup.Use(auth.RequireAuth(), auth.RequireAdmin())
	{
		adminGroup.GET("/jobs", adminJobsHandler.List)
		adminGroup.GET("/jobs/:id", adminJobsHandler.GetByID)
		adminGroup.POST("/jobs/:id/retry", adminJobsHandler.Retry)
		adminGroup.POST("/jobs/reprocess-dead", adminJobsHandler.ReprocessDead)
	}

	return r
}
