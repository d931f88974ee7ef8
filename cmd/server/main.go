package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/anonto42/nano-midea/realtime/internal/ledger"
	"github.com/anonto42/nano-midea/realtime/internal/media"
	"github.com/anonto42/nano-midea/realtime/internal/metrics"
	"github.com/anonto42/nano-midea/realtime/internal/middleware"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/push"
	"github.com/anonto42/nano-midea/realtime/internal/readstate"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
	"github.com/anonto42/nano-midea/realtime/internal/router"
	"github.com/anonto42/nano-midea/realtime/internal/store"
	fsstore "github.com/anonto42/nano-midea/realtime/internal/store/firestore"
	"github.com/anonto42/nano-midea/realtime/internal/store/memory"
	mgstore "github.com/anonto42/nano-midea/realtime/internal/store/mongo"
	"github.com/anonto42/nano-midea/realtime/pkg/config"
	"github.com/anonto42/nano-midea/realtime/pkg/firebase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Env != "production" {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	policy := cfg.RetryPolicy()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connections
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize databases: %v", err)
	}
	defer db.CloseDB()
	if db.Postgres != nil {
		if err := router.Migrate(db.Postgres); err != nil {
			log.Fatalf("Failed to auto migrate models: %v", err)
		}
		log.Println("PostgreSQL auto-migrations completed for all models.")
	}

	// Initialize Firebase
	var firebaseApp *firebase.App
	if cfg.StoreBackend == "firestore" || cfg.AuthMode == "firebase" || cfg.FirebaseCredentialsPath != "" {
		firebaseApp, err = firebase.InitFirebase(ctx, firebase.Options{
			CredentialsPath: cfg.FirebaseCredentialsPath,
			ProjectID:       cfg.FirebaseProjectID,
			StorageBucket:   cfg.FirebaseStorageBucket,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Firebase: %v", err)
		}
	}

	docs := openStore(ctx, cfg, db, firebaseApp)
	resolver := media.NewCache(mediaRouter(ctx, cfg, firebaseApp), media.WithRetryPolicy(policy))

	var sink push.Sink = push.LogSink{Logger: slog.Default()}
	if firebaseApp != nil && db.Postgres != nil {
		sink = push.NewFCMSink(firebaseApp.Messaging, repositories.NewPostgresDeviceTokenRepository(db.Postgres), slog.Default())
		log.Println("Push notifications go through FCM.")
	}

	l := ledger.New(docs, ledger.WithRetryPolicy(policy), ledger.WithPageSize(cfg.MessagePageSize))
	tracker := readstate.New(docs, l, readstate.WithRetryPolicy(policy), readstate.WithReceipts(l))
	aggregatorOpts := []notify.Option{
		notify.WithSink(sink),
		notify.WithResolver(resolver),
		notify.WithRetryPolicy(policy),
		notify.WithFeedLimit(cfg.NotificationFeedLimit),
	}
	if db.Postgres != nil {
		aggregatorOpts = append(aggregatorOpts, notify.WithNames(repositories.NewPostgresUserRepository(db.Postgres)))
	}
	aggregator := notify.New(docs, aggregatorOpts...)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	router.SetupMiddleware(e)

	deps := router.Deps{
		Ledger:     l,
		Tracker:    tracker,
		Aggregator: aggregator,
		Media:      resolver,
		DB:         db.Postgres,
		JWTSecret:  cfg.JWTSecret,
	}
	if firebaseApp != nil {
		deps.Verifier = firebaseApp.AuthClient
	}
	switch cfg.AuthMode {
	case "jwt":
		deps.Auth = middleware.JWTAuthMiddleware(cfg.JWTSecret)
		log.Println("JWT authentication middleware applied to /api/v1 group.")
	default:
		deps.Auth = middleware.FirebaseAuthMiddleware(firebaseApp.AuthClient)
		log.Println("Firebase authentication middleware applied to /api/v1 group.")
	}
	router.SetupRoutes(e, deps)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP server listening on :%s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("Metrics server listening on :%s", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP server: %v", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down metrics server: %v", err)
		}
		// Let in-flight push deliveries finish.
		aggregator.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
	log.Println("Server stopped.")
}

// openStore builds the document store named by STORE_BACKEND.
func openStore(ctx context.Context, cfg *config.Config, db *config.DB, app *firebase.App) store.Store {
	switch cfg.StoreBackend {
	case "firestore":
		client, err := app.Firestore(ctx)
		if err != nil {
			log.Fatalf("Failed to open Firestore: %v", err)
		}
		log.Println("Using the Firestore document store.")
		return fsstore.New(client, slog.Default())
	case "mongo":
		var opts []mgstore.Option
		if cfg.MongoTransactions {
			opts = append(opts, mgstore.WithTransactions())
		}
		s := mgstore.New(db.Mongo.Database(cfg.MongoDatabase), opts...)
		if err := s.EnsureIndexes(ctx); err != nil {
			log.Fatalf("Failed to create MongoDB indexes: %v", err)
		}
		log.Println("Using the MongoDB document store.")
		return s
	default:
		log.Println("Using the in-memory document store. Data is lost on restart.")
		return memory.New()
	}
}

// mediaRouter wires a resolver backend for every configured storage
// scheme.
func mediaRouter(ctx context.Context, cfg *config.Config, app *firebase.App) media.Router {
	r := media.Router{}
	if app != nil {
		r["gs"] = media.NewFirebaseStorage(app.Storage, cfg.MediaURLTTL)
	}
	if cfg.AWSRegion != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatalf("Failed to load AWS configuration: %v", err)
		}
		r["s3"] = media.NewS3(s3.NewFromConfig(awsCfg), cfg.MediaURLTTL)
		log.Printf("S3 media references resolve in %s.", cfg.AWSRegion)
	}
	return r
}
