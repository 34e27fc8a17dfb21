// Package server contains HTTP and WebSocket handlers for the broadcast API.
package server

import (
	"context"
	"strconv"
	"time"

	"livecommerce/internal/config"
	"livecommerce/internal/featureflags"
	"livecommerce/internal/middleware"
	"livecommerce/internal/models"
	"livecommerce/internal/notifications"
	"livecommerce/internal/observability"
	"livecommerce/internal/recording"
	"livecommerce/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RecordingHooks receives provider callbacks that finish a recording.
type RecordingHooks interface {
	HandleRecordingReady(ctx context.Context, rec recording.Recording) error
}

// Deps are the already-initialized collaborators of a Server.
type Deps struct {
	DB           *gorm.DB
	Redis        *redis.Client
	Notifier     *notifications.Notifier
	Hub          *notifications.Hub
	FeatureFlags *featureflags.Manager
	Broadcasts   *service.BroadcastService
	Admin        *service.AdminService
	Vods         *service.VodService
	Recordings   RecordingHooks
	WebhookToken string
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	notifier       *notifications.Notifier
	hub            *notifications.Hub
	featureFlags   *featureflags.Manager
	broadcasts     *service.BroadcastService
	admin          *service.AdminService
	vods           *service.VodService
	recordings     RecordingHooks
	webhookToken   string
}

// NewServer creates a Server from initialized dependencies.
func NewServer(cfg *config.Config, deps Deps) *Server {
	flags := deps.FeatureFlags
	if flags == nil {
		flags = featureflags.NewManager(cfg.FeatureFlags)
	}
	s := &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		promMiddleware: middleware.InitMetrics("livecommerce-api"),
		notifier:       deps.Notifier,
		hub:            deps.Hub,
		featureFlags:   flags,
		broadcasts:     deps.Broadcasts,
		admin:          deps.Admin,
		vods:           deps.Vods,
		recordings:     deps.Recordings,
		webhookToken:   deps.WebhookToken,
	}
	if s.hub != nil && s.broadcasts != nil {
		s.hub.SetLeaveHandler(s.onSocketLeave)
	}
	return s
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Range, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		ExposeHeaders:    "Content-Range, Accept-Ranges, Content-Length",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        globalRequestLimit,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// Preflight, provider callbacks and ranged video reads are not throttled per IP.
			return c.Method() == fiber.MethodOptions ||
				c.Path() == "/api/webhooks/openvidu" ||
				c.Get(fiber.HeaderRange) != ""
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewTooManyRequestsError("requests"))
		},
	}))

	app.Use(middleware.TracingMiddleware())
}

// globalRequestLimit is the per-IP request budget per minute across the API.
const globalRequestLimit = 300

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	// Provider callbacks
	api.Post("/webhooks/openvidu", s.OpenViduWebhook)

	// Seller routes
	seller := api.Group("/seller", middleware.AuthRequired, middleware.RequireRole(middleware.RoleSeller))
	sellerBroadcasts := seller.Group("/broadcasts")
	// Specific routes before generic /:id routes
	sellerBroadcasts.Get("/slots", s.GetReservableSlots)
	sellerBroadcasts.Post("/", middleware.RateLimit(s.redis, 10, time.Minute, "create_broadcast"), s.CreateBroadcast)
	sellerBroadcasts.Post("/:id/start", s.StartBroadcast)
	sellerBroadcasts.Post("/:id/end", s.EndBroadcast)
	sellerBroadcasts.Post("/:id/recording/start", s.StartRecording)
	sellerBroadcasts.Get("/:id/media", s.GetMediaConfig)
	sellerBroadcasts.Put("/:id/media", s.SaveMediaConfig)
	sellerBroadcasts.Put("/:id", s.UpdateBroadcast)
	sellerBroadcasts.Delete("/:id", s.CancelBroadcast)

	sellerVods := seller.Group("/vods")
	sellerVods.Patch("/:id/visibility", s.ChangeVodVisibility)
	sellerVods.Delete("/:id", s.DeleteVod)

	// Viewer routes
	broadcasts := api.Group("/broadcasts")
	broadcasts.Get("/:id/stats", s.GetBroadcastStats)
	broadcasts.Post("/:id/join", middleware.OptionalAuth, s.JoinBroadcast)
	broadcasts.Post("/:id/leave", middleware.OptionalAuth, s.LeaveBroadcast)
	broadcasts.Post("/:id/like", middleware.AuthRequired,
		middleware.RateLimit(s.redis, 60, time.Minute, "broadcast_like"), s.ToggleLike)
	broadcasts.Post("/:id/report", middleware.AuthRequired,
		middleware.RateLimit(s.redis, 5, time.Minute, "broadcast_report"), s.ReportBroadcast)
	broadcasts.Get("/:id", s.GetBroadcast)

	vods := api.Group("/vods")
	vods.Get("/:id/stream", s.StreamVod)
	vods.Post("/:id/view", middleware.OptionalAuth, s.RecordVodView)
	vods.Post("/:id/like", middleware.AuthRequired,
		middleware.RateLimit(s.redis, 60, time.Minute, "vod_like"), s.ToggleVodLike)
	vods.Post("/:id/report", middleware.AuthRequired,
		middleware.RateLimit(s.redis, 5, time.Minute, "vod_report"), s.ReportVod)

	// Admin routes
	admin := api.Group("/admin", middleware.AuthRequired, middleware.RequireRole(middleware.RoleAdmin))
	admin.Get("/feature-flags", s.GetFeatureFlags)
	admin.Post("/broadcasts/:id/stop", s.ForceStopBroadcast)
	admin.Post("/broadcasts/:id/cancel", s.AdminCancelBroadcast)
	admin.Post("/broadcasts/:id/sanctions", s.SanctionViewer)
	admin.Post("/products/:id/sold-out", s.MarkProductSoldOut)
	admin.Put("/vods/:id/lock", s.SetVodAdminLock)

	// Websocket events and chat; anonymous viewers are allowed.
	app.Get("/ws/broadcasts/:id", middleware.OptionalAuth, s.BroadcastSocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unavailable"
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis == nil {
		// Presence, locks and retry queues all live in Redis.
		redisStatus = "unavailable"
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
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

// GetFeatureFlags returns the flag definitions and, with ?seller_id=N, how
// each one evaluates for that seller.
// @Summary List feature flags
// @Tags Admin
// @Produce json
// @Param seller_id query int false "Evaluate rollouts for this seller"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	out := fiber.Map{"flags": s.featureFlags.Raw()}
	if raw := c.Query("seller_id"); raw != "" {
		sellerID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("seller_id must be a positive integer"))
		}
		out["seller_id"] = sellerID
		out["evaluated"] = s.featureFlags.Snapshot(uint(sellerID))
	}
	return c.JSON(out)
}

// App builds the Fiber app with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "livecommerce API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled request error",
				"path", c.Path(), "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start wires the hub to Redis pub/sub and listens on the configured port.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.App()

	if s.notifier != nil && s.hub != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				observability.GlobalLogger.Error("failed to start hub wiring",
					"hub", s.hub.Name(), "error", err)
			}
		}()
	}

	observability.GlobalLogger.Info("server starting", "port", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests and closes the websocket connections.
// Database and Redis handles belong to the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.GlobalLogger.Error("error shutting down HTTP server", "error", err)
		}
	}

	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			observability.GlobalLogger.Error("error shutting down hub", "hub", s.hub.Name(), "error", err)
		}
	}

	observability.GlobalLogger.Info("server shutdown complete")
	return nil
}
