// Package server contains HTTP handlers and routing for the application's API.
package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"lumen/internal/auth"
	"lumen/internal/cache"
	"lumen/internal/config"
	"lumen/internal/database"
	"lumen/internal/middleware"
	"lumen/internal/models"
	"lumen/internal/repository"
	"lumen/internal/service"
	"lumen/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers. Everything is
// constructed explicitly here, the application's composition root; nothing is
// lazily built process-wide.
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus

	codec       *auth.TokenCodec
	clientIdent *middleware.ClientIdentifier
	limiter     *middleware.RateLimiter

	userRepo  repository.UserRepository
	tokenRepo repository.RefreshTokenRepository

	authService *service.AuthService
	userService *service.UserService
	postService *service.PostService
}

// NewServer creates a new server instance, establishing database, Redis, and
// object-store connections.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	blobs, err := storage.NewObjectStore(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("object store init failed: %w", err)
	}
	if err := blobs.EnsureBucket(context.Background()); err != nil {
		return nil, fmt.Errorf("object store bucket check failed: %w", err)
	}

	return NewServerWithDeps(cfg, db, redisClient, blobs)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Tests use this with an in-memory DB, miniredis, and a fake blob store.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, blobs storage.BlobStore) (*Server, error) {
	clientIdent, err := middleware.NewClientIdentifier(cfg.TrustedProxyList(), cfg.IPHeaderList())
	if err != nil {
		return nil, fmt.Errorf("rate limit configuration invalid: %w", err)
	}

	codec := auth.NewTokenCodec(cfg.JWTSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLMinutes)*time.Minute,
	)
	hasher := auth.NewPasswordHasher()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	postRepo := repository.NewPostRepository(db)
	followRepo := repository.NewFollowRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	likeRepo := repository.NewLikeRepository(db)

	images := service.NewImageService(cfg.UploadMaxBytes)

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("lumen-api"),
		codec:          codec,
		clientIdent:    clientIdent,
		limiter: middleware.NewRateLimiter(redisClient, cfg.RateLimitRequests,
			time.Duration(cfg.RateLimitWindowSeconds)*time.Second, "rl:global"),
		userRepo:    userRepo,
		tokenRepo:   tokenRepo,
		authService: service.NewAuthService(userRepo, tokenRepo, hasher, codec, cfg.RefreshTokenLimit),
		userService: service.NewUserService(userRepo, followRepo, postRepo, images, blobs),
		postService: service.NewPostService(postRepo, commentRepo, likeRepo, images, blobs),
	}
	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit
	// (e.g. the limiter) so browser clients still receive CORS headers on
	// error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting; probes and metrics scrapes are exempt.
	app.Use(middleware.RateLimit(s.limiter, s.clientIdent, "/health", "/healthz", "/metrics"))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/healthz", s.LivenessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Auth routes
	authGroup := app.Group("/auth")
	authGroup.Post("/register", middleware.RouteRateLimit(
		s.redis, s.clientIdent, 3, 10*time.Minute, "register"), s.Register)
	authGroup.Post("/login", middleware.RouteRateLimit(
		s.redis, s.clientIdent, 10, 5*time.Minute, "login"), s.Login)
	authGroup.Post("/refresh", s.Refresh)
	authGroup.Post("/logout", s.Logout)

	// Own profile
	app.Get("/me", s.AuthRequired(), s.GetMyProfile)
	app.Patch("/me", s.AuthRequired(), s.UpdateMyProfile)

	// User routes. /search must be registered before the :username matcher.
	users := app.Group("/users")
	users.Get("/search", s.SearchUsers)
	users.Post("/:username/follow", s.AuthRequired(), s.FollowUser)
	users.Delete("/:username/follow", s.AuthRequired(), s.UnfollowUser)
	users.Get("/:username/followers", s.GetFollowers)
	users.Get("/:username/following", s.GetFollowing)
	users.Get("/:username", s.GetUserProfile)

	// Post routes. /feed must be registered before the :id matcher.
	posts := app.Group("/posts")
	posts.Post("/", s.AuthRequired(), middleware.RouteRateLimit(
		s.redis, s.clientIdent, 10, 5*time.Minute, "create_post"), s.CreatePost)
	posts.Get("/", s.GetPosts)
	posts.Get("/feed", s.AuthRequired(), s.GetHomeFeed)
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/comments", s.AuthRequired(), middleware.RouteRateLimit(
		s.redis, s.clientIdent, 30, time.Minute, "create_comment"), s.CreateComment)
	posts.Post("/:id/like", s.AuthRequired(), s.LikePost)
	posts.Delete("/:id/like", s.AuthRequired(), s.UnlikePost)
	posts.Get("/:id", s.GetPost)

	// Home feed alias
	app.Get("/feed/home", s.AuthRequired(), s.GetHomeFeed)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. An unreachable database
// fails readiness; a degraded Redis is reported but does not, since the rate
// limiter fails open and the cache is best-effort.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	} else if redisStatus != "healthy" {
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns the authentication middleware. The access token is
// read from its cookie, falling back to a Bearer header for non-browser
// clients. The gate is read-only: it resolves the user but mutates nothing.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies(accessCookieName)
		if tokenString == "" {
			if header := c.Get("Authorization"); header != "" {
				parts := strings.Split(header, " ")
				if len(parts) == 2 && parts[0] == "Bearer" {
					tokenString = parts[1]
				}
			}
		}
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		claims, err := s.codec.Decode(tokenString)
		if err != nil || claims.TokenKind != auth.TokenKindAccess {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}
		userID, err := claims.UserID()
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid user ID in token"))
		}

		// A valid token for a deleted account is still unauthorized.
		if _, err := s.userRepo.GetByID(c.UserContext(), userID); err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		c.Locals("userID", userID)
		ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, userID)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// optionalUserID resolves the caller's identity if a valid access token is
// present but does not enforce one.
func (s *Server) optionalUserID(c *fiber.Ctx) (uint, bool) {
	tokenString := c.Cookies(accessCookieName)
	if tokenString == "" {
		header := c.Get("Authorization")
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		return 0, false
	}

	claims, err := s.codec.Decode(tokenString)
	if err != nil || claims.TokenKind != auth.TokenKindAccess {
		return 0, false
	}
	userID, err := claims.UserID()
	if err != nil {
		return 0, false
	}
	return userID, true
}

// Start starts the server
func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "Lumen API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return models.RespondWithAppError(c, err)
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// App builds and returns the configured Fiber app without listening, for
// tests driving requests through app.Test.
func (s *Server) App() *fiber.App {
	if s.app == nil {
		app := fiber.New(fiber.Config{
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				return models.RespondWithAppError(c, err)
			},
		})
		s.app = app
		s.SetupMiddleware(app)
		s.SetupRoutes(app)
	}
	return s.app
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
