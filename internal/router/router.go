package router

import (
	"log"

	"github.com/labstack/echo/v4"
	eMiddleware "github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"github.com/anonto42/nano-midea/realtime/internal/handlers"
	"github.com/anonto42/nano-midea/realtime/internal/ledger"
	"github.com/anonto42/nano-midea/realtime/internal/middleware"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/readstate"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
	"github.com/anonto42/nano-midea/realtime/pkg/config"
)

// Deps carries everything the routes need. DB and Verifier are optional:
// without DB the relational routes are not mounted, without Verifier the
// Firebase login route is not mounted.
type Deps struct {
	Ledger     *ledger.Ledger
	Tracker    *readstate.Tracker
	Aggregator *notify.Aggregator
	Media      handlers.MediaResolver
	DB         *gorm.DB
	Verifier   middleware.TokenVerifier
	Auth       echo.MiddlewareFunc
	JWTSecret  string
}

// SetupMiddleware configures global Echo middleware
func SetupMiddleware(e *echo.Echo) {
	e.Use(config.RequestLogger())
	e.Use(eMiddleware.Recover())
	e.Use(eMiddleware.CORS())
	log.Println("Global middleware configured.")
}

// Migrate creates the relational tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.DeviceToken{},
		&models.Follow{},
		&models.Like{},
		&models.Comment{},
		&models.StoryReaction{},
	)
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, d Deps) {
	// Health check - always accessible
	e.GET("/health", handlers.HealthCheck)

	api := e.Group("/api/v1")
	api.Use(d.Auth)

	conversationHandler := handlers.NewConversationHandler(d.Ledger, d.Tracker, d.Media)
	conversationHandler.RegisterConversationRoutes(api)
	log.Println("Conversation routes configured.")

	streamHandler := handlers.NewStreamHandler(d.Ledger, d.Tracker, d.Aggregator, d.Media)
	streamHandler.RegisterStreamRoutes(api)
	log.Println("Websocket stream routes configured.")

	if d.DB == nil {
		notificationHandler := handlers.NewNotificationHandler(d.Aggregator, nil)
		notificationHandler.RegisterNotificationRoutes(api)
		log.Println("Notification routes configured without user profiles.")
		return
	}

	// --- Initialize Repositories ---
	userRepo := repositories.NewPostgresUserRepository(d.DB)
	deviceTokenRepo := repositories.NewPostgresDeviceTokenRepository(d.DB)
	followRepo := repositories.NewPostgresFollowRepository(d.DB)
	likeRepo := repositories.NewPostgresLikeRepository(d.DB)
	commentRepo := repositories.NewPostgresCommentRepository(d.DB)
	storyRepo := repositories.NewStoryReactionRepository(d.DB)

	if d.Verifier != nil {
		authGroup := e.Group("/api/v1/auth")
		authHandler := handlers.NewAuthHandler(userRepo, d.Verifier, d.JWTSecret)
		authHandler.RegisterAuthRoutes(authGroup)
		log.Println("Auth routes configured.")
	}

	notificationHandler := handlers.NewNotificationHandler(d.Aggregator, userRepo)
	notificationHandler.RegisterNotificationRoutes(api)
	log.Println("Notification routes configured.")

	userHandler := handlers.NewUserHandler(userRepo, d.Media)
	userHandler.RegisterProfileRoutes(api)
	log.Println("User profile routes configured.")

	deviceHandler := handlers.NewDeviceHandler(deviceTokenRepo)
	deviceHandler.RegisterDeviceRoutes(api)
	log.Println("Device token routes configured.")

	followHandler := handlers.NewFollowHandler(followRepo, d.Aggregator)
	followHandler.RegisterFollowRoutes(api)
	log.Println("Follow routes configured.")

	likeHandler := handlers.NewLikeHandler(likeRepo, d.Aggregator)
	likeHandler.RegisterLikeRoutes(api)
	log.Println("Like routes configured.")

	commentHandler := handlers.NewCommentHandler(commentRepo, d.Aggregator)
	commentHandler.RegisterCommentRoutes(api)
	log.Println("Comment routes configured.")

	storyHandler := handlers.NewStoryHandler(storyRepo, d.Aggregator)
	storyHandler.RegisterStoryRoutes(api)
	log.Println("Story reaction routes configured.")

	log.Println("All routes configured.")
}
