package main

import (
	"os"
	"strings"
	"time"

	_ "backoffice/api/swagger" // swagger docs
	"backoffice/internal/config"
	"backoffice/internal/database"
	"backoffice/internal/handler"
	"backoffice/internal/middleware"
	"backoffice/internal/repository"
	"backoffice/internal/service"
	"backoffice/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Back Office API
// @version         1.0
// @description     Procurement and HR request lifecycle API: drafts, submission, review, approval, comments, sharing and RFQ dispatch.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	db, err := database.NewConnection(cfg.DSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	logger.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("connected to postgres")

	if err := database.Seed(db); err != nil {
		logger.Fatal().Err(err).Msg("seeding roles and permissions failed")
	}

	// RequirePermission needs a DB handle for role permission lookups;
	// token verification shares the configured signing secret
	middleware.InitPermissionMiddleware(db)
	middleware.InitAuth(cfg.JWTSecret)

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("cannot create upload directory")
	}

	wsHub := websocket.NewHub(logger.With().Str("component", "websocket").Logger())
	go wsHub.Run()

	// Repository -> Service -> Handler
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	txManager := repository.NewTransactionManager(db)

	userService := service.NewUserService(userRepo, []byte(cfg.JWTSecret))
	roleService := service.NewRoleService(roleRepo)
	auditService := service.NewAuditService(auditRepo)
	requestService := service.NewRequestService(requestRepo, commentRepo, userRepo, auditRepo, txManager, wsHub, logger.With().Str("component", "requests").Logger())
	commentService := service.NewCommentService(requestRepo, commentRepo, auditRepo, txManager, wsHub)

	userHandler := handler.NewUserHandler(userService)
	roleHandler := handler.NewRoleHandler(roleService)
	auditHandler := handler.NewAuditHandler(auditService)
	requestHandler := handler.NewRequestHandler(requestService, commentService, cfg.UploadDir)

	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint for the live dashboard feed
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	userHandler.RegisterRoutes(router.Group(""))
	roleHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))
	requestHandler.RegisterRoutes(router.Group(""))

	logger.Info().Str("port", cfg.Port).Msg("server listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
